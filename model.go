package forge

import (
	"fmt"
	"os"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Configuration structs + build records
////////////////////////////////////////////////////////////////////////////////

// PipelineMode selects how the rendered build is executed: "buildkit"
// solves it against a BuildKit daemon, "artifact" records the full build
// plan on disk without contacting a daemon.
type PipelineMode string

const (
	pipelineModeArtifact PipelineMode = "artifact"
	pipelineModeBuildKit PipelineMode = "buildkit"
)

func parsePipelineMode(raw string) (PipelineMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "":
		return pipelineModeBuildKit, nil
	case string(pipelineModeArtifact):
		return pipelineModeArtifact, nil
	case string(pipelineModeBuildKit):
		return pipelineModeBuildKit, nil
	default:
		return pipelineModeBuildKit, fmt.Errorf(
			"invalid %s value %q (want %q or %q)",
			envPipelineMode,
			raw,
			pipelineModeArtifact,
			pipelineModeBuildKit,
		)
	}
}

// BuildConfig carries every pipeline input explicitly. Ambient process
// environment is read exactly once, in buildConfigFromEnv; everything
// downstream takes the struct.
type BuildConfig struct {
	// Revision is the opaque identifier pinning the source snapshot.
	Revision string
	// FIPS switches the toolchain to dynamic crypto linkage and adds the
	// runtime crypto package to the exported image.
	FIPS bool
	Mode PipelineMode
	// Worktree optionally names an existing checkout to pin before the
	// build plan is rendered. Empty means the build context is taken
	// as-is.
	Worktree string
	// ToolchainInstallerURL is fetched and piped to a shell with
	// non-interactive flags during the toolchain acquisition step.
	ToolchainInstallerURL string
}

func defaultBuildConfig() BuildConfig {
	return BuildConfig{
		Revision:              "",
		FIPS:                  false,
		Mode:                  pipelineModeBuildKit,
		Worktree:              "",
		ToolchainInstallerURL: toolchainInstallerURL,
	}
}

func buildConfigFromEnv() (BuildConfig, error) {
	cfg := defaultBuildConfig()
	cfg.Revision = strings.TrimSpace(os.Getenv(envGitHash))
	if cfg.Revision == "" {
		return cfg, fmt.Errorf("%s is required", envGitHash)
	}
	cfg.FIPS = os.Getenv(envEnableFIPS) == enableFIPSOn
	mode, err := parsePipelineMode(os.Getenv(envPipelineMode))
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode
	return cfg, nil
}

// LintConfig captures everything lintguard reads from its process:
// original command line, the execution-context marker, and the tracing
// toggle.
type LintConfig struct {
	ProgramPath  string
	Args         []string
	InsideMarker string
	Debug        bool
}

func lintConfigFromProcess(argv []string) LintConfig {
	cfg := LintConfig{
		ProgramPath:  "",
		Args:         nil,
		InsideMarker: os.Getenv(envMakefileRun),
		Debug:        os.Getenv(envShellDebug) != "",
	}
	if len(argv) > 0 {
		cfg.ProgramPath = argv[0]
		cfg.Args = append([]string(nil), argv[1:]...)
	}
	return cfg
}

////////////////////////////////////////////////////////////////////////////////
// Build records
////////////////////////////////////////////////////////////////////////////////

type BuildStatus string

const (
	buildStatusRunning BuildStatus = "running"
	buildStatusDone    BuildStatus = "done"
	buildStatusError   BuildStatus = "error"
)

type StepOutcome struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"err,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
}

type BuildRecord struct {
	ID        string        `json:"id"`
	Revision  string        `json:"revision"`
	FIPS      bool          `json:"fips"`
	Mode      string        `json:"mode"`
	ImageTag  string        `json:"image_tag,omitempty"`
	Status    BuildStatus   `json:"status"`
	Steps     []StepOutcome `json:"steps,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func newBuildRecord(id string, cfg BuildConfig) BuildRecord {
	now := time.Now().UTC()
	return BuildRecord{
		ID:        id,
		Revision:  cfg.Revision,
		FIPS:      cfg.FIPS,
		Mode:      string(cfg.Mode),
		ImageTag:  "",
		Status:    buildStatusRunning,
		Steps:     nil,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func imageTagForBuild(cfg BuildConfig) string {
	return fmt.Sprintf("local/%s:%s", artifactServer, tagSafeID(cfg.Revision))
}
