// Package worker is the evaluation context. A Worker owns a VM and its own
// copy of the patch, rebuilt from snapshots the authoring context posts. It
// compiles, hands the signal half to the renderer and streams the effects of
// every pass back as events.
package worker
