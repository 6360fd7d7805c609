package sshsession

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal SSH server. "exec" requests echo the command and
// the session environment back; a command of the form "exit N" exits with N.
type testServer struct {
	addr    string
	port    int
	hostKey ssh.Signer

	mu       sync.Mutex
	ptyReqs  int
	commands []string
}

func newTestKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startTestServer(t *testing.T, clientKey ssh.PublicKey) *testServer {
	t.Helper()

	srv := &testServer{hostKey: newTestKey(t)}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(srv.hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv.addr = ln.Addr().String()
	_, portStr, _ := net.SplitHostPort(srv.addr)
	srv.port, _ = strconv.Atoi(portStr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()
	return srv
}

func (s *testServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var env []string
	for req := range requests {
		switch req.Type {
		case "pty-req":
			s.mu.Lock()
			s.ptyReqs++
			s.mu.Unlock()
			_ = req.Reply(true, nil)
		case "env":
			var kv struct{ Name, Value string }
			_ = ssh.Unmarshal(req.Payload, &kv)
			env = append(env, kv.Name+"="+kv.Value)
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()
			go runFakeCommand(ch, payload.Command, env)
		case "subsystem":
			var payload struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err == nil {
					_ = server.Serve()
				}
				ch.Close()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func runFakeCommand(ch ssh.Channel, command string, env []string) {
	status := uint32(0)
	if code, ok := strings.CutPrefix(command, "exit "); ok {
		n, _ := strconv.Atoi(code)
		status = uint32(n)
	}
	fmt.Fprintf(ch, "ran: %s\n", command)
	fmt.Fprintf(ch, "env: %s", strings.Join(env, ","))
	fmt.Fprint(ch.Stderr(), "warn line\n")
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	ch.Close()
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}
