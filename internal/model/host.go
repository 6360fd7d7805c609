// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Host type and the parsing of comma-separated host
// lists as they appear on the command line.
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Host is a single remote machine taking part in the run.
type Host struct {
	// Address is the hostname or IP used to open the SSH connection.
	Address string
	// Port is the optional port embedded in a "host:port" token. Zero when
	// the token carried no port.
	Port int
}

// String returns the host exactly as it should be handed to the training
// program: "address" or "address:port".
func (h Host) String() string {
	if h.Port == 0 {
		return h.Address
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// Equal reports whether both hosts refer to the same machine.
func (h Host) Equal(other Host) bool {
	return h.Address == other.Address
}

// ParseHost parses "address" or "address:port".
func ParseHost(token string) (Host, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Host{}, fmt.Errorf("empty host")
	}

	// Bare addresses (including unbracketed IPv6) have no port.
	if !strings.Contains(token, ":") || (strings.Count(token, ":") > 1 && !strings.HasPrefix(token, "[")) {
		return Host{Address: token}, nil
	}

	addr, portStr, err := net.SplitHostPort(token)
	if err != nil {
		return Host{}, fmt.Errorf("invalid host %q: %w", token, err)
	}
	if addr == "" {
		return Host{}, fmt.Errorf("invalid host %q: missing address", token)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Host{}, fmt.Errorf("invalid host %q: bad port %q", token, portStr)
	}
	return Host{Address: addr, Port: port}, nil
}

// ParseHostList parses a comma-separated host list. An empty string yields
// an empty list.
func ParseHostList(list string) ([]Host, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	tokens := strings.Split(list, ",")
	hosts := make([]Host, 0, len(tokens))
	for _, tok := range tokens {
		h, err := ParseHost(tok)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// JoinHosts renders hosts back into the comma-separated form.
func JoinHosts(hosts []Host) string {
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		parts[i] = h.String()
	}
	return strings.Join(parts, ",")
}

// CheckUniqueHosts returns an error naming the first address that appears
// more than once.
func CheckUniqueHosts(hosts []Host) error {
	seen := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if _, dup := seen[h.Address]; dup {
			return fmt.Errorf("host %q appears more than once", h.Address)
		}
		seen[h.Address] = struct{}{}
	}
	return nil
}
