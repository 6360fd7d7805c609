package sshsession

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/proxy"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"golang.org/x/crypto/ssh"
	xproxy "golang.org/x/net/proxy"
)

// Defaults applied by NewDialer.
const (
	DefaultPort    = 22
	DefaultUser    = "ubuntu"
	DefaultTimeout = 10 * time.Second
)

// Config holds the SSH connection settings shared by every host of a run.
type Config struct {
	User string
	// KeyFile is the path of the private key. Ignored when Signer is set.
	KeyFile string
	Signer  ssh.Signer
	// Port is the SSH port on every host.
	Port    int
	Timeout time.Duration
	// HTTPProxy is an optional "host:port" forward proxy.
	HTTPProxy string
	// KnownHostsFiles defaults to DefaultKnownHostsFiles. Missing files are
	// skipped.
	KnownHostsFiles []string
	StrictHostKeys  bool
}

// Dialer implements session.Dialer over SSH.
type Dialer struct {
	cfg       Config
	clientCfg *ssh.ClientConfig
	hostKeys  *hostKeyPolicy
	net       xproxy.ContextDialer
	logger    *slog.Logger
}

var _ session.Dialer = (*Dialer)(nil)

// NewDialer validates cfg, loads the private key and known hosts, and
// prepares the proxy tunnel if one is configured.
func NewDialer(ctx context.Context, cfg Config) (*Dialer, error) {
	logger := ctxlog.FromContext(ctx)

	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KnownHostsFiles == nil {
		cfg.KnownHostsFiles = DefaultKnownHostsFiles()
	}

	signer := cfg.Signer
	if signer == nil {
		var err error
		signer, err = loadSigner(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
	}

	hostKeys, err := newHostKeyPolicy(cfg.KnownHostsFiles, cfg.StrictHostKeys, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.StrictHostKeys {
		logger.Warn("Unknown host keys will be trusted on first use. Pass strict host key checking to refuse them.")
	}

	var netDialer xproxy.ContextDialer = &net.Dialer{Timeout: cfg.Timeout}
	if cfg.HTTPProxy != "" {
		netDialer, err = proxy.FromAddress(cfg.HTTPProxy)
		if err != nil {
			return nil, err
		}
		logger.Info("Tunneling SSH through HTTP proxy.", "proxy", cfg.HTTPProxy)
	}

	return &Dialer{
		cfg: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys.check,
			Timeout:         cfg.Timeout,
		},
		hostKeys: hostKeys,
		net:      netDialer,
		logger:   logger,
	}, nil
}

func loadSigner(keyFile string) (ssh.Signer, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("no SSH private key configured")
	}
	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key %s: %w", keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, fmt.Errorf("SSH key %s is passphrase protected, which is not supported", keyFile)
		}
		return nil, fmt.Errorf("parsing SSH key %s: %w", keyFile, err)
	}
	return signer, nil
}

// Dial makes one connection attempt to host.
func (d *Dialer) Dial(ctx context.Context, host model.Host) (session.Session, error) {
	addr := net.JoinHostPort(host.Address, strconv.Itoa(d.cfg.Port))

	// The proxy handshake carries its own, longer deadline.
	dialCtx := ctx
	if d.cfg.HTTPProxy == "" {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	conn, err := d.net.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(d.cfg.Timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, d.clientCfg)
	if err != nil {
		conn.Close()
		if keyErr := d.hostKeys.rejection(addr); keyErr != nil {
			return nil, session.Permanent(keyErr)
		}
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}

	return newSession(host, ssh.NewClient(c, chans, reqs), d.logger.With("host", host.String())), nil
}
