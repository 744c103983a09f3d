// Package cli builds the patchflow command tree. It turns arguments and the
// optional YAML config file into an app configuration and dispatches to the
// app's run, check and telemetry operations.
package cli
