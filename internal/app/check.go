package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/ctxlog"
)

// ErrCheckFailed is returned by Check when a patch has compile errors.
var ErrCheckFailed = errors.New("patch check failed")

// Check compiles every patch under paths and writes one report line per
// patch, followed by its diagnostics, to w.
func (a *App) Check(ctx context.Context, w io.Writer, paths ...string) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	patches, err := a.LoadPatches(ctx, paths...)
	if err != nil {
		return err
	}

	failed := 0
	for _, named := range patches {
		prog, err := compiler.Compile(ctx, named.Patch)
		if err != nil {
			return fmt.Errorf("compile %s: %w", named.Name, err)
		}
		status := "ok"
		if prog.Diagnostics.HasErrors() {
			status = "failed"
			failed++
		}
		fmt.Fprintf(w, "%s (%s): %s, %d outputs, %d fragments, %d routines, %d params\n",
			named.Name, named.File, status, len(prog.Outputs), prog.FragmentCount(), len(prog.Routines), len(prog.Params))
		for _, d := range prog.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d patches", ErrCheckFailed, failed, len(patches))
	}
	return nil
}
