// Package app wires the launcher together. It validates the configuration,
// builds the SSH transport, the executor and the orchestrator, serves the
// health check, and turns a launch report into a process outcome. It is
// decoupled from the CLI so it can be driven directly from tests.
package app
