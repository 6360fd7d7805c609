// Package sshsession implements the session contracts over SSH using
// golang.org/x/crypto/ssh for commands and github.com/pkg/sftp for file
// transfers.
//
// Host keys are checked against the local known_hosts files. Keys of hosts
// that are not listed are accepted and remembered for the rest of the run
// (trust on first use) and a warning is logged with the key fingerprint;
// setting Config.StrictHostKeys rejects them instead. A key that differs
// from a listed or remembered one is always rejected.
package sshsession
