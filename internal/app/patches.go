package app

import (
	"context"
	"fmt"

	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/loader"
)

// LoadPatches parses every patch file found under paths.
func (a *App) LoadPatches(ctx context.Context, paths ...string) ([]*loader.Named, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	patches, err := loader.New(a.registry).Load(ctx, paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load patches: %w", err)
	}
	a.logger.Info("Patches loaded successfully.", "patches_found", len(patches))
	return patches, nil
}

// selectPatch returns the patch called name, or the first one when name is
// empty.
func selectPatch(patches []*loader.Named, name string) (*loader.Named, error) {
	if len(patches) == 0 {
		return nil, fmt.Errorf("no patches found")
	}
	if name == "" {
		return patches[0], nil
	}
	for _, p := range patches {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("patch %q not found", name)
}
