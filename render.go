package forge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

////////////////////////////////////////////////////////////////////////////////
// Release Dockerfile rendering (two stages: builder + minimal runtime)
////////////////////////////////////////////////////////////////////////////////

// builderPackages is the pinned OS-level dependency set for the build
// environment: crypto dev headers, a C/C++ toolchain with static-link
// support, the task runner, a scripting interpreter, a source-control
// client, and a network-fetch tool. The runtime stage never sees these.
func builderPackages() []string {
	return []string{
		cryptoDevPackage,
		"gcc",
		"gcc-c++",
		"libstdc++-static",
		taskRunnerBin,
		"python3",
		"git",
		"curl",
	}
}

func renderEnvPrepInstructions(b *strings.Builder) {
	fmt.Fprintf(b, "FROM %s AS builder\n\n", builderBaseImage)
	b.WriteString("RUN dnf install -y \\\n")
	for _, pkg := range builderPackages() {
		fmt.Fprintf(b, "        %s \\\n", pkg)
	}
	b.WriteString("    && dnf clean all\n\n")
}

func renderToolchainInstructions(cfg BuildConfig, b *strings.Builder) error {
	url := strings.TrimSpace(cfg.ToolchainInstallerURL)
	if url == "" {
		return fmt.Errorf("toolchain installer URL is empty")
	}
	if strings.ContainsAny(url, " \t\n\"'") {
		return fmt.Errorf("toolchain installer URL %q contains shell metacharacters", url)
	}
	fmt.Fprintf(b, "RUN curl --proto '=https' --tlsv1.2 -sSf %s \\\n", url)
	b.WriteString("    | sh -s -- -y --default-toolchain none --no-modify-path\n")
	fmt.Fprintf(b, "ENV PATH=%s:$PATH\n\n", toolchainBinDir)
	return nil
}

func renderSourcePinInstructions(cfg BuildConfig, b *strings.Builder) error {
	revision := strings.TrimSpace(cfg.Revision)
	if revision == "" {
		return fmt.Errorf("build revision is empty")
	}
	if strings.ContainsAny(revision, " \t\n\"'$&|;<>`\\") {
		return fmt.Errorf("build revision %q contains shell metacharacters", revision)
	}
	fmt.Fprintf(b, "WORKDIR %s\n", builderWorkdir)
	b.WriteString("COPY . .\n")
	// Force-checkout then hard-reset: the build must be reproducible from
	// the named revision alone, local modifications do not survive.
	fmt.Fprintf(b, "RUN git checkout --force %s && git reset --hard\n\n", revision)
	return nil
}

func renderCompileInstructions(cfg BuildConfig, b *strings.Builder) {
	if cfg.FIPS {
		fmt.Fprintf(b, "RUN %s=%s %s %s\n\n", envEnableFIPS, enableFIPSOn, taskRunnerBin, releaseBuildTarget)
		return
	}
	fmt.Fprintf(b, "RUN %s %s\n\n", taskRunnerBin, releaseBuildTarget)
}

func renderExportStage(cfg BuildConfig, b *strings.Builder) {
	fmt.Fprintf(b, "FROM %s\n\n", runtimeBaseImage)
	if cfg.FIPS {
		// The exported server links crypto dynamically in FIPS mode; the
		// matching runtime package must be present or it fails to start.
		fmt.Fprintf(b, "RUN microdnf install -y %s && microdnf clean all\n\n", cryptoRuntimePackage)
	}
	fmt.Fprintf(b, "COPY --from=builder %s/%s %s\n", builderArtifactDir, artifactServer, runtimeServerPath)
	fmt.Fprintf(b, "COPY --from=builder %s/%s %s\n\n", builderArtifactDir, artifactAdminTool, runtimeAdminToolPath)
	fmt.Fprintf(b, "EXPOSE %d %d\n\n", servicePort, statusPort)
	fmt.Fprintf(b, "ENTRYPOINT [%q]\n", runtimeServerPath)
}

// renderReleaseDockerfile renders the full two-stage build and validates
// the result with the BuildKit Dockerfile parser so renderer bugs fail
// here instead of inside a daemon.
func renderReleaseDockerfile(cfg BuildConfig) ([]byte, error) {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n\n")
	renderEnvPrepInstructions(&b)
	if err := renderToolchainInstructions(cfg, &b); err != nil {
		return nil, err
	}
	if err := renderSourcePinInstructions(cfg, &b); err != nil {
		return nil, err
	}
	renderCompileInstructions(cfg, &b)
	renderExportStage(cfg, &b)

	body := []byte(b.String())
	if err := validateDockerfile(body); err != nil {
		return nil, err
	}
	return body, nil
}

func validateDockerfile(body []byte) error {
	if _, err := parser.Parse(bytes.NewReader(body)); err != nil {
		return fmt.Errorf("parse rendered dockerfile: %w", err)
	}
	return nil
}
