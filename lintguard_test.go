package forge_test

import (
	"slices"
	"strings"
	"testing"

	forge "github.com/a2y-d5l/release-forge"
)

func lintConfig(marker string, args ...string) forge.LintConfig {
	return forge.LintConfig{
		ProgramPath:  "scripts/lintguard",
		Args:         args,
		InsideMarker: marker,
		Debug:        false,
	}
}

func TestLintGuard_NeedsReentry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		marker string
		want   bool
	}{
		{name: "unset", marker: "", want: true},
		{name: "whitespace only", marker: "   ", want: true},
		{name: "tab and newline", marker: "\t\n", want: true},
		{name: "canonical", marker: "1", want: false},
		{name: "any non-empty value", marker: "yes", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := forge.NeedsReentryForTest(lintConfig(tc.marker))
			if got != tc.want {
				t.Fatalf("needsReentry(%q) = %t, want %t", tc.marker, got, tc.want)
			}
		})
	}
}

func TestLintGuard_OutsideReinvokesWithFullCommandLine(t *testing.T) {
	t.Parallel()

	runner := &forge.FakeCommandRunnerForTest{Codes: []int{3}}
	code := forge.RunLintGuardForTest(lintConfig("", "--foo", "bar"), runner)

	if code != 3 {
		t.Fatalf("exit code mismatch: got %d want 3", code)
	}
	if len(runner.Calls) != 1 {
		t.Fatalf("expected exactly one re-invocation, got %d calls", len(runner.Calls))
	}
	call := runner.Calls[0]
	if call.Name != "make" {
		t.Fatalf("re-entry must go through the task runner, got %q", call.Name)
	}
	if !slices.Equal(call.Args, []string{"run"}) {
		t.Fatalf("re-entry target mismatch: %v", call.Args)
	}
	if !slices.Contains(call.ExtraEnv, "COMMAND=scripts/lintguard --foo bar") {
		t.Fatalf("original command line not forwarded as one opaque string: %v", call.ExtraEnv)
	}
	marker := ""
	for _, kv := range call.ExtraEnv {
		if v, ok := strings.CutPrefix(kv, "MAKEFILE_RUN="); ok {
			marker = v
		}
	}
	if strings.TrimSpace(marker) == "" {
		t.Fatalf("child env missing execution-context marker: %v", call.ExtraEnv)
	}
	// The marker the child receives must stop a nested wrapper from
	// re-invoking again.
	if forge.NeedsReentryForTest(lintConfig(marker)) {
		t.Fatalf("forwarded marker %q would let a nested wrapper recurse", marker)
	}
}

func TestLintGuard_InsideInvokesAnalysisOnce(t *testing.T) {
	t.Parallel()

	runner := &forge.FakeCommandRunnerForTest{Codes: []int{101}}
	code := forge.RunLintGuardForTest(lintConfig("1", "--foo", "bar"), runner)

	if code != 101 {
		t.Fatalf("exit code mismatch: got %d want 101", code)
	}
	if len(runner.Calls) != 1 {
		t.Fatalf("expected exactly one analysis invocation, got %d calls", len(runner.Calls))
	}
	call := runner.Calls[0]
	if call.Name != "cargo" {
		t.Fatalf("analysis tool mismatch: %q", call.Name)
	}
	want := []string{"clippy", "--all-targets", "--features", "testexport failpoints", "--foo", "bar"}
	if !slices.Equal(call.Args, want) {
		t.Fatalf("analysis args mismatch:\n got %v\nwant %v", call.Args, want)
	}
	if len(call.ExtraEnv) != 0 {
		t.Fatalf("analysis invocation must not mutate environment: %v", call.ExtraEnv)
	}
}

func TestLintGuard_ArgumentTailPreservedVerbatim(t *testing.T) {
	t.Parallel()

	tail := []string{"--fix", "--", "-D", "warnings", "weird arg with spaces"}
	runner := &forge.FakeCommandRunnerForTest{}
	forge.RunLintGuardForTest(lintConfig("1", tail...), runner)

	got := runner.Calls[0].Args
	if !slices.Equal(got[len(got)-len(tail):], tail) {
		t.Fatalf("argument tail reordered or modified: %v", got)
	}
}

func TestLintGuard_ExitCodesPreserved(t *testing.T) {
	t.Parallel()

	for _, code := range []int{0, 1, 7, 101, 255} {
		runner := &forge.FakeCommandRunnerForTest{Codes: []int{code}}
		got := forge.RunLintGuardForTest(lintConfig("1"), runner)
		if got != code {
			t.Fatalf("exit code %d remapped to %d", code, got)
		}
	}
}

func TestLintGuard_SequentialInvocationsIdentical(t *testing.T) {
	t.Parallel()

	first := &forge.FakeCommandRunnerForTest{}
	second := &forge.FakeCommandRunnerForTest{}
	forge.RunLintGuardForTest(lintConfig("", "--foo", "bar"), first)
	forge.RunLintGuardForTest(lintConfig("", "--foo", "bar"), second)

	if len(first.Calls) != 1 || len(second.Calls) != 1 {
		t.Fatalf("call counts differ: %d vs %d", len(first.Calls), len(second.Calls))
	}
	a, b := first.Calls[0], second.Calls[0]
	if a.Name != b.Name || !slices.Equal(a.Args, b.Args) || !slices.Equal(a.ExtraEnv, b.ExtraEnv) {
		t.Fatalf("sequential invocations diverge:\n%+v\n%+v", a, b)
	}
}

func TestLintGuard_ConfigFromProcess(t *testing.T) {
	t.Setenv("MAKEFILE_RUN", "1")
	t.Setenv("SHELL_DEBUG", "x")

	cfg := forge.LintConfigFromProcessForTest([]string{"scripts/lintguard", "--foo", "bar"})
	if cfg.ProgramPath != "scripts/lintguard" {
		t.Fatalf("program path mismatch: %q", cfg.ProgramPath)
	}
	if !slices.Equal(cfg.Args, []string{"--foo", "bar"}) {
		t.Fatalf("args mismatch: %v", cfg.Args)
	}
	if cfg.InsideMarker != "1" {
		t.Fatalf("inside marker mismatch: %q", cfg.InsideMarker)
	}
	if !cfg.Debug {
		t.Fatal("debug toggle not captured")
	}
}

func TestLintGuard_ExecRunnerPreservesChildExitStatus(t *testing.T) {
	t.Parallel()

	code, err := forge.RunExecCommandForTest("sh", []string{"-c", "exit 7"}, nil)
	if err != nil {
		t.Fatalf("run child: %v", err)
	}
	if code != 7 {
		t.Fatalf("exit status mismatch: got %d want 7", code)
	}

	code, err = forge.RunExecCommandForTest("sh", []string{"-c", "true"}, nil)
	if err != nil {
		t.Fatalf("run child: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit status mismatch: got %d want 0", code)
	}
}

func TestLintGuard_ExecRunnerReportsStartFailure(t *testing.T) {
	t.Parallel()

	code, err := forge.RunExecCommandForTest("definitely-not-a-real-binary-xyz", nil, nil)
	if err == nil {
		t.Fatal("expected start failure")
	}
	if code == 0 {
		t.Fatal("start failure must not report success")
	}
}
