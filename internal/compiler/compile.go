// Package compiler turns a patch into a Program. The signal half is a set of
// fragment lanes rendered every block; the control half is one instruction
// routine per node inlet, run by the VM when a message arrives.
//
// Compilation never fails on graph problems. Unresolved operators, feedback
// loops without a history node and operator type errors drop the affected
// branch and are returned as diagnostics on the Program.
package compiler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/patch"
)

// Compile builds a program from p.
func Compile(ctx context.Context, p *patch.Patch) (*Program, error) {
	if p == nil {
		return nil, errors.New("compile: nil patch")
	}
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	fp, err := p.Snapshot().Fingerprint()
	if err != nil {
		return nil, err
	}
	prog := &Program{ID: uuid.New(), Fingerprint: fp}

	sc := newSignalCompiler(p, &prog.Diagnostics)
	prog.Outputs = sc.compile()
	prog.Lanes = sc.schedule(prog.Outputs)
	prog.Params = sc.params
	prog.Loops = sc.loops

	cc := newControlCompiler(p, &prog.Diagnostics)
	prog.Routines, prog.Emitters, prog.LoadBang = cc.compile()

	for _, d := range prog.Diagnostics {
		logger.Warn("⚠️ Compile diagnostic.", "severity", d.Severity, "error", d.Err)
	}
	logger.Debug("Compiled program.",
		"program", prog.ID,
		"lanes", len(prog.Lanes),
		"fragments", prog.FragmentCount(),
		"routines", len(prog.Routines),
		"diagnostics", len(prog.Diagnostics),
		"duration", time.Since(start),
	)
	return prog, nil
}
