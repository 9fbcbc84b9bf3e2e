package jit

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ModuleOptions controls CompileModule.
type ModuleOptions struct {
	// Parallel bounds the number of concurrent compilations. Zero means
	// GOMAXPROCS.
	Parallel int
	// Progress, if set, is called after each function compiles. It may be
	// called from several goroutines.
	Progress func(index uint32)
}

// CompileModule compiles every function of ctx.Module. Results are indexed
// by function index. The first failure cancels the remaining work and is
// returned.
func CompileModule(ctx context.Context, cctx *CompileContext, opts ModuleOptions) ([]*Compiled, error) {
	if cctx == nil || cctx.Module == nil {
		return nil, fmt.Errorf("jit: compile module: %w: no module", ErrMalformed)
	}
	if err := cctx.Module.Validate(); err != nil {
		return nil, fmt.Errorf("jit: compile module: %w", err)
	}
	limit := opts.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	out := make([]*Compiled, len(cctx.Module.Functions))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range out {
		index := uint32(i)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn, err := CompileFunction(cctx, index)
			if err != nil {
				return err
			}
			out[index] = fn
			if opts.Progress != nil {
				opts.Progress(index)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	cctx.logger().Info("compiled module", "functions", len(out), "parallel", limit)
	return out, nil
}
