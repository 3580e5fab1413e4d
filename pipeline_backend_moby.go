//go:build buildkit

package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/buildkit/client"
)

const (
	buildkitAddressEnv     = "FORGE_BUILDKIT_ADDR"
	defaultBuildkitAddress = "unix:///run/buildkit/buildkitd.sock"
)

func buildkitCompiledIn() bool {
	return true
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

	dockerfileDir, err := os.MkdirTemp("", "forge-buildkit-dockerfile-")
	if err != nil {
		return imageSolveResult{}, fmt.Errorf("create buildkit dockerfile temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dockerfileDir)
	}()
	dockerfileName := "Dockerfile"
	dockerfilePath := filepath.Join(dockerfileDir, dockerfileName)
	if err := os.WriteFile(dockerfilePath, req.DockerfileBody, fileModePrivate); err != nil {
		return imageSolveResult{}, fmt.Errorf("write buildkit dockerfile input: %w", err)
	}

	address := buildkitAddress()
	buildkitClient, err := client.New(ctx, address)
	if err != nil {
		return imageSolveResult{}, fmt.Errorf("connect buildkit client at %s: %w", address, err)
	}
	defer func() {
		_ = buildkitClient.Close()
	}()

	solveOpt := client.SolveOpt{
		Frontend: "dockerfile.v0",
		FrontendAttrs: map[string]string{
			"filename": dockerfileName,
		},
		LocalDirs: map[string]string{
			"context":    req.ContextDir,
			"dockerfile": dockerfileDir,
		},
		Exports: []client.ExportEntry{
			{
				Type: "image",
				Attrs: map[string]string{
					"name": req.ImageTag,
					"push": "false",
				},
			},
		},
	}
	solveResp, err := buildkitClient.Solve(ctx, nil, solveOpt, nil)
	if err != nil {
		return imageSolveResult{}, fmt.Errorf("solve image %s via buildkit: %w", req.ImageTag, err)
	}

	return imageSolveResult{
		message: "container image built and exported to local daemon",
		metadata: map[string]any{
			"strategy":           "buildkit",
			"build_executed":     true,
			"address":            address,
			"solve_completed_at": time.Now().UTC().Format(time.RFC3339),
			"exporter_response":  solveResp.ExporterResponse,
		},
	}, nil
}

func buildkitAddress() string {
	raw := strings.TrimSpace(os.Getenv(buildkitAddressEnv))
	if raw == "" {
		return defaultBuildkitAddress
	}
	return raw
}
