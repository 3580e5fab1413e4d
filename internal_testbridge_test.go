//nolint:testpackage // External tests call these wrappers; bridge must access unexported internals.
package forge

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	AnalysisFeatureSetForTest = analysisFeatureSet
	ServicePortForTest        = servicePort
	StatusPortForTest         = statusPort
)

func RenderReleaseDockerfileForTest(cfg BuildConfig) ([]byte, error) {
	return renderReleaseDockerfile(cfg)
}

func BuilderPackagesForTest() []string {
	return builderPackages()
}

func DefaultBuildConfigForTest() BuildConfig {
	return defaultBuildConfig()
}

func BuildConfigFromEnvForTest() (BuildConfig, error) {
	return buildConfigFromEnv()
}

func ParsePipelineModeForTest(raw string) (string, error) {
	mode, err := parsePipelineMode(raw)
	return string(mode), err
}

func ImageTagForBuildForTest(cfg BuildConfig) string {
	return imageTagForBuild(cfg)
}

func LintConfigFromProcessForTest(argv []string) LintConfig {
	return lintConfigFromProcess(argv)
}

func NeedsReentryForTest(cfg LintConfig) bool {
	return needsReentry(cfg)
}

func ReentryCommandLineForTest(cfg LintConfig) string {
	return reentryCommandLine(cfg)
}

func AnalysisArgsForTest(cfg LintConfig) []string {
	return analysisArgs(cfg)
}

type FakeCommandCall struct {
	Name     string
	Args     []string
	ExtraEnv []string
}

// FakeCommandRunnerForTest records invocations and returns scripted exit
// codes in order, repeating the last one when the script runs out.
type FakeCommandRunnerForTest struct {
	Calls []FakeCommandCall
	Codes []int
	Errs  []error
}

func (f *FakeCommandRunnerForTest) run(name string, args []string, extraEnv []string) (int, error) {
	f.Calls = append(f.Calls, FakeCommandCall{
		Name:     name,
		Args:     append([]string(nil), args...),
		ExtraEnv: append([]string(nil), extraEnv...),
	})
	idx := len(f.Calls) - 1
	code := 0
	if len(f.Codes) > 0 {
		if idx >= len(f.Codes) {
			idx = len(f.Codes) - 1
		}
		code = f.Codes[idx]
	}
	var err error
	if len(f.Errs) > 0 && len(f.Calls)-1 < len(f.Errs) {
		err = f.Errs[len(f.Calls)-1]
	}
	return code, err
}

func RunLintGuardForTest(cfg LintConfig, runner *FakeCommandRunnerForTest) int {
	return runLintGuard(cfg, runner, appLoggerForProcess().Source("lintguard"))
}

func RunExecCommandForTest(name string, args, extraEnv []string) (int, error) {
	return execCommandRunner{}.run(name, args, extraEnv)
}

func NewPipelineForTest(cfg BuildConfig, artifacts ArtifactStore) *Pipeline {
	return newPipeline(cfg, artifacts, nil, newBuildEventHub(eventHistoryLimit), solverForMode(cfg.Mode))
}

func RunPipelineForTest(ctx context.Context, p *Pipeline) (BuildRecord, error) {
	return p.Run(ctx)
}

func PipelineBuildIDForTest(p *Pipeline) string {
	return p.buildID
}

func PipelineStepOrderForTest() []string {
	return pipelineStepOrder()
}

func PinWorktreeToRevisionForTest(ctx context.Context, dir, revision string) (string, error) {
	return pinWorktreeToRevision(ctx, dir, revision)
}

func ResolveRevisionForTest(ctx context.Context, dir, revision string) (string, error) {
	return resolveRevision(ctx, dir, revision)
}

func RenderRuntimeManifestsForTest(imageTag string) (string, error) {
	return renderRuntimeManifests(imageTag)
}

func SplitImageTagForTest(imageTag string) (string, string) {
	return splitImageTag(imageTag)
}

func AppendBuildIndexForTest(ids []string, buildID string, limit int) []string {
	return appendBuildIndex(ids, buildID, limit)
}

type BuildEventHubForTest struct {
	hub *buildEventHub
}

func NewBuildEventHubForTest(historyLimit int) *BuildEventHubForTest {
	return &BuildEventHubForTest{hub: newBuildEventHub(historyLimit)}
}

func (h *BuildEventHubForTest) Publish(name, buildID, step, message, errText string) {
	payload := buildEventPayload{}
	payload.BuildID = buildID
	payload.Step = step
	payload.Message = message
	payload.Error = errText
	h.hub.publish(name, payload)
}

func (h *BuildEventHubForTest) Subscribe() (uint64, <-chan buildEventRecord) {
	return h.hub.subscribe()
}

func (h *BuildEventHubForTest) Unsubscribe(id uint64) {
	h.hub.unsubscribe(id)
}

func (h *BuildEventHubForTest) HistoryNames() []string {
	records := h.hub.history()
	names := make([]string, 0, len(records))
	for _, record := range records {
		names = append(names, record.Name)
	}
	return names
}

func (h *BuildEventHubForTest) HistoryMessages() []string {
	records := h.hub.history()
	messages := make([]string, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.Payload.Message)
	}
	return messages
}

// StartStoreForTest brings up an embedded NATS server in storeDir and
// returns a Store bound to it plus a cleanup func.
func StartStoreForTest(ctx context.Context, storeDir string) (*Store, func(), error) {
	ns, natsURL, err := startEmbeddedNATS(storeDir)
	if err != nil {
		return nil, nil, err
	}
	nc, err := nats.Connect(natsURL, nats.Name("forge-test"))
	if err != nil {
		ns.Shutdown()
		ns.WaitForShutdown()
		return nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
		return nil, nil, err
	}
	store, err := newStore(ctx, js)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
		return nil, nil, err
	}
	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return store, cleanup, nil
}

func NewBuildRecordForTest(id string, cfg BuildConfig) BuildRecord {
	return newBuildRecord(id, cfg)
}

func BuildkitCompiledInForTest() bool {
	return buildkitCompiledIn()
}
