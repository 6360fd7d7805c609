package sshsession

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultKnownHostsFiles returns the user and system known_hosts paths.
func DefaultKnownHostsFiles() []string {
	files := []string{"/etc/ssh/ssh_known_hosts"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append([]string{filepath.Join(home, ".ssh", "known_hosts")}, files...)
	}
	return files
}

// hostKeyPolicy checks server keys against known_hosts and remembers keys
// accepted on first use.
type hostKeyPolicy struct {
	known  ssh.HostKeyCallback
	strict bool
	logger *slog.Logger

	mu       sync.Mutex
	accepted map[string]ssh.PublicKey
	rejected map[string]error
}

func newHostKeyPolicy(files []string, strict bool, logger *slog.Logger) (*hostKeyPolicy, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	p := &hostKeyPolicy{
		strict:   strict,
		logger:   logger,
		accepted: make(map[string]ssh.PublicKey),
		rejected: make(map[string]error),
	}
	if len(existing) > 0 {
		cb, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		p.known = cb
		logger.Debug("Loaded known hosts.", "files", existing)
	}
	return p, nil
}

// check implements ssh.HostKeyCallback.
func (p *hostKeyPolicy) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	norm := knownhosts.Normalize(hostname)
	fingerprint := ssh.FingerprintSHA256(key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.accepted[norm]; ok {
		if bytes.Equal(prev.Marshal(), key.Marshal()) {
			return nil
		}
		return p.reject(norm, fmt.Errorf("host key for %s changed during the run (now %s)", hostname, fingerprint))
	}

	if p.known != nil {
		err := p.known(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return p.reject(norm, fmt.Errorf("host key verification failed for %s: %w", hostname, err))
		}
	}

	if p.strict {
		return p.reject(norm, fmt.Errorf("unknown host key for %s (%s %s)", hostname, key.Type(), fingerprint))
	}

	p.logger.Warn("Trusting unknown host key on first use.", "host", hostname, "type", key.Type(), "fingerprint", fingerprint)
	p.accepted[norm] = key
	return nil
}

func (p *hostKeyPolicy) reject(norm string, err error) error {
	p.rejected[norm] = err
	return err
}

// rejection returns the verification error recorded for hostname, if any.
func (p *hostKeyPolicy) rejection(hostname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected[knownhosts.Normalize(hostname)]
}
