package forge

import "context"

////////////////////////////////////////////////////////////////////////////////
// Image solve backends
////////////////////////////////////////////////////////////////////////////////

type imageSolveRequest struct {
	BuildID           string
	ImageTag          string
	ContextDir        string
	DockerfileBody    []byte
	DockerfileRelPath string
}

type imageSolveResult struct {
	message  string
	metadata map[string]any
}

type imageSolverBackend interface {
	name() string
	solve(ctx context.Context, req imageSolveRequest) (imageSolveResult, error)
}

// artifactSolverBackend records the fully rendered build plan without
// contacting a daemon. The pipeline's artifact writes are identical in
// both modes; only the solve differs.
type artifactSolverBackend struct{}

func (artifactSolverBackend) name() string {
	return string(pipelineModeArtifact)
}

func (artifactSolverBackend) solve(
	ctx context.Context,
	req imageSolveRequest,
) (imageSolveResult, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return imageSolveResult{}, err
	}
	return imageSolveResult{
		message: "build plan recorded without execution",
		metadata: map[string]any{
			"strategy":       "artifact",
			"build_executed": false,
			"context_dir":    req.ContextDir,
			"dockerfile":     req.DockerfileRelPath,
			"image":          req.ImageTag,
		},
	}, nil
}

func solverForMode(mode PipelineMode) imageSolverBackend {
	if mode == pipelineModeArtifact {
		return artifactSolverBackend{}
	}
	return buildKitSolverBackend{}
}
