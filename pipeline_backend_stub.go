//go:build !buildkit

package forge

import (
	"context"
	"fmt"
)

func buildkitCompiledIn() bool {
	return false
}

type buildKitSolverBackend struct{}

func (buildKitSolverBackend) name() string {
	return string(pipelineModeBuildKit)
}

func (buildKitSolverBackend) solve(
	ctx context.Context,
	req imageSolveRequest,
) (imageSolveResult, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return imageSolveResult{}, err
	}
	return imageSolveResult{}, fmt.Errorf(
		"buildkit mode unavailable: binary was built without BuildKit support (set %s=artifact or rebuild with -tags buildkit)",
		envPipelineMode,
	)
}
