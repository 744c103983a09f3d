// Package app contains the core application logic. It wires the patch
// loader, the evaluation worker, the authoring session and the renderer
// into one lifecycle, decoupled from any specific entrypoint like a CLI.
package app
