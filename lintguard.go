package forge

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// Analysis re-invocation wrapper
////////////////////////////////////////////////////////////////////////////////

// commandRunner is the narrow seam between the wrapper's decision logic
// and real processes. Production uses execCommandRunner; tests inject a
// fake and never spawn anything.
type commandRunner interface {
	run(name string, args []string, extraEnv []string) (int, error)
}

type execCommandRunner struct{}

func (execCommandRunner) run(name string, args []string, extraEnv []string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), extraEnv...)
	return exitStatusFromRunError(cmd.Run())
}

// exitStatusFromRunError preserves the child's exit code 0-255 verbatim.
// A child killed by a signal carries no wait status code; that maps to 1.
// A process that never started is the only case reported as an error.
func exitStatusFromRunError(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return 1, nil
	}
	return 1, err
}

// needsReentry reports whether the process must re-enter the controlled
// build environment. A marker that trims to empty cannot witness a
// controlled environment, so it counts as unset: the wrapper fails
// toward re-invoking rather than toward running unchecked.
func needsReentry(cfg LintConfig) bool {
	return strings.TrimSpace(cfg.InsideMarker) == ""
}

// reentryCommandLine reconstructs the wrapper's full original command
// line as a single opaque string for the task runner's re-entry target.
func reentryCommandLine(cfg LintConfig) string {
	parts := append([]string{cfg.ProgramPath}, cfg.Args...)
	return strings.Join(parts, " ")
}

// analysisArgs builds the single analysis invocation: fixed scope, fixed
// feature set, then the caller's argument tail verbatim and in order.
// The feature set is not overridable through this wrapper.
func analysisArgs(cfg LintConfig) []string {
	args := []string{
		analysisSubcommand,
		analysisScopeArg,
		"--features",
		analysisFeatureSet,
	}
	return append(args, cfg.Args...)
}

func runLintGuard(cfg LintConfig, runner commandRunner, log sourceLogger) int {
	if needsReentry(cfg) {
		commandLine := reentryCommandLine(cfg)
		if cfg.Debug {
			log.Debugf("+ %s=%s %s %s %s=%q",
				envMakefileRun, reentryMarkerOn, taskRunnerBin, reentryTarget, reentryCommandEnv, commandLine)
		}
		// The marker travels with the child so the re-invoked wrapper
		// observes a controlled environment and cannot recurse.
		code, err := runner.run(
			taskRunnerBin,
			[]string{reentryTarget},
			[]string{
				envMakefileRun + "=" + reentryMarkerOn,
				reentryCommandEnv + "=" + commandLine,
			},
		)
		if err != nil {
			log.Errorf("re-enter controlled environment: %v", err)
		}
		return code
	}

	args := analysisArgs(cfg)
	if cfg.Debug {
		log.Debugf("+ %s %s", analysisToolBin, strings.Join(args, " "))
	}
	code, err := runner.run(analysisToolBin, args, nil)
	if err != nil {
		log.Errorf("run analysis tool: %v", err)
	}
	return code
}

// RunLintGuard is the lintguard process entry point. The exit code is
// the re-invoked child's or the analysis tool's, never a code of our
// own.
func RunLintGuard() {
	cfg := lintConfigFromProcess(os.Args)
	log := appLoggerForProcess().Source("lintguard")
	os.Exit(runLintGuard(cfg, execCommandRunner{}, log))
}
