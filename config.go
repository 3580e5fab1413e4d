package forge

import (
	"os"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Build parameters, environment markers, pinned pipeline inputs
////////////////////////////////////////////////////////////////////////////////

const (
	// Pipeline build parameters.
	envGitHash      = "GIT_HASH"
	envEnableFIPS   = "ENABLE_FIPS"
	envPipelineMode = "FORGE_PIPELINE_MODE"

	// Lintguard environment toggles.
	envMakefileRun = "MAKEFILE_RUN"
	envShellDebug  = "SHELL_DEBUG"

	enableFIPSOn = "1"

	// Base images: build environment and the unrelated minimal runtime.
	builderBaseImage = "rockylinux:8"
	runtimeBaseImage = "rockylinux:8-minimal"

	// Fixed artifact names and paths. The export stage copies by these
	// paths; it never searches.
	artifactServer       = "kv-server"
	artifactAdminTool    = "kv-ctl"
	builderWorkdir       = "/build"
	builderArtifactDir   = "/build/output/release"
	runtimeServerPath    = "/" + artifactServer
	runtimeAdminToolPath = "/" + artifactAdminTool

	// Declared service ports (metadata only, nothing binds at build time).
	servicePort = 20160
	statusPort  = 20180

	// Crypto packages: the dev package is builder-stage only, the runtime
	// package is installed into the exported image when FIPS is enabled.
	cryptoDevPackage     = "openssl-devel"
	cryptoRuntimePackage = "openssl"

	// Toolchain installer: non-interactive, no default component, PATH
	// wired explicitly so later stages resolve the toolchain binaries.
	toolchainInstallerURL = "https://sh.rustup.rs"
	toolchainBinDir       = "/root/.cargo/bin"

	// External task runner targets. The re-entry marker is set on the
	// child directly so a nested wrapper sees a controlled environment
	// even when the task runner does not export it.
	taskRunnerBin      = "make"
	releaseBuildTarget = "build_dist_release"
	reentryTarget      = "run"
	reentryCommandEnv  = "COMMAND"
	reentryMarkerOn    = "1"

	// External analysis tool invocation.
	analysisToolBin    = "cargo"
	analysisSubcommand = "clippy"
	analysisScopeArg   = "--all-targets"
	analysisFeatureSet = "testexport failpoints"

	// KV bucket for build records.
	kvBucketBuilds    = "forge_builds"
	kvBuildKeyPrefix  = "build/"
	kvBuildIndexKey   = "index"
	defaultKVHistory  = 10
	buildHistoryLimit = 50

	// Where the pipeline writes artifacts and the embedded JetStream
	// server keeps build history between runs.
	defaultArtifactsRoot = "./data/artifacts"
	defaultJetStreamDir  = "./data/forge-js"

	defaultStartupWait = 10 * time.Second
	gitOpTimeout       = 20 * time.Second
	gitReadTimeout     = 10 * time.Second
	storeOpTimeout     = 10 * time.Second

	shortIDLength = 12

	eventHistoryLimit     = 256
	eventSubscriberBuffer = 32

	fileModePrivate    os.FileMode = 0o600
	dirModePrivateRead os.FileMode = 0o750
)

// Ordered pipeline step names. The order is load-bearing: each step
// requires the previous step's side effects.
const (
	stepEnvPrep   = "envPrep"
	stepToolchain = "toolchain"
	stepSourcePin = "sourcePin"
	stepCompile   = "compile"
	stepExport    = "export"
)

func pipelineStepOrder() []string {
	return []string{stepEnvPrep, stepToolchain, stepSourcePin, stepCompile, stepExport}
}
