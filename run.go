package forge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/pflag"
)

////////////////////////////////////////////////////////////////////////////////
// Entrypoint
////////////////////////////////////////////////////////////////////////////////

func Run() {
	mainLog := appLoggerForProcess().Source("main")

	flags := pflag.NewFlagSet("release-forge", pflag.ContinueOnError)
	revision := flags.String("revision", "", "build revision (defaults to "+envGitHash+")")
	fips := flags.Bool("fips", false, "compliance build mode (defaults to "+envEnableFIPS+"=1)")
	mode := flags.String("mode", "", "pipeline mode: artifact or buildkit (defaults to "+envPipelineMode+")")
	worktree := flags.String("worktree", "", "existing checkout to pin and use as build context")
	artifactsRoot := flags.String("artifacts-root", defaultArtifactsRoot, "artifact output root")
	jetstreamDir := flags.String("state-dir", defaultJetStreamDir, "build history state directory")
	limit := flags.Int("limit", 20, "history entries to list")

	args := os.Args[1:]
	command := "build"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}
	if err := flags.Parse(args); err != nil {
		mainLog.Fatalf("parse flags: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ns, natsURL, err := startEmbeddedNATS(*jetstreamDir)
	if err != nil {
		mainLog.Fatalf("start embedded nats: %v", err)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := nats.Connect(natsURL, nats.Name("release-forge"))
	if err != nil {
		mainLog.Fatalf("connect nats: %v", err)
	}
	defer func() {
		if derr := nc.Drain(); derr != nil {
			mainLog.Warnf("nats drain error: %v", derr)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		mainLog.Fatalf("jetstream: %v", err)
	}
	store, err := newStore(ctx, js)
	if err != nil {
		mainLog.Fatalf("store: %v", err)
	}

	switch command {
	case "build":
		cfg, cfgErr := resolveBuildConfig(flags, *revision, *fips, *mode, *worktree)
		if cfgErr != nil {
			mainLog.Fatalf("build config: %v", cfgErr)
		}
		runBuildCommand(ctx, cfg, *artifactsRoot, store, mainLog)
	case "history":
		runHistoryCommand(ctx, store, *limit, mainLog)
	default:
		mainLog.Fatalf("unknown command %q (want build or history)", command)
	}
}

// resolveBuildConfig merges environment parameters with explicit flags;
// flags win when set.
func resolveBuildConfig(
	flags *pflag.FlagSet,
	revision string,
	fips bool,
	mode, worktree string,
) (BuildConfig, error) {
	cfg := defaultBuildConfig()
	cfg.Revision = strings.TrimSpace(os.Getenv(envGitHash))
	cfg.FIPS = os.Getenv(envEnableFIPS) == enableFIPSOn
	parsedMode, err := parsePipelineMode(os.Getenv(envPipelineMode))
	if err != nil {
		return cfg, err
	}
	cfg.Mode = parsedMode

	if revision != "" {
		cfg.Revision = strings.TrimSpace(revision)
	}
	if flags.Changed("fips") {
		cfg.FIPS = fips
	}
	if mode != "" {
		cfg.Mode, err = parsePipelineMode(mode)
		if err != nil {
			return cfg, err
		}
	}
	cfg.Worktree = worktree
	if cfg.Revision == "" {
		return cfg, fmt.Errorf("%s or --revision is required", envGitHash)
	}
	return cfg, nil
}

func runBuildCommand(
	ctx context.Context,
	cfg BuildConfig,
	artifactsRoot string,
	store *Store,
	mainLog sourceLogger,
) {
	artifacts := NewFSArtifacts(artifactsRoot)
	if err := os.MkdirAll(artifactsRoot, dirModePrivateRead); err != nil {
		mainLog.Fatalf("mkdir artifacts root: %v", err)
	}

	events := newBuildEventHub(eventHistoryLimit)
	subID, eventCh := events.subscribe()
	defer events.unsubscribe(subID)
	eventLog := appLoggerForProcess().Source("events")
	go func() {
		for record := range eventCh {
			if record.Payload.Error != "" {
				eventLog.Warnf("%s step=%s: %s", record.Name, record.Payload.Step, record.Payload.Error)
				continue
			}
			eventLog.Debugf("%s step=%s %s", record.Name, record.Payload.Step, record.Payload.Message)
		}
	}()

	pipeline := newPipeline(cfg, artifacts, store, events, solverForMode(cfg.Mode))
	rec, err := pipeline.Run(ctx)
	if err != nil {
		mainLog.Fatalf("build %s aborted: %v", shortID(rec.ID), err)
	}
	mainLog.Infof("build %s done: image=%s artifacts=%s", shortID(rec.ID), rec.ImageTag, artifacts.BuildDir(rec.ID))
}

func runHistoryCommand(ctx context.Context, store *Store, limit int, mainLog sourceLogger) {
	records, err := store.ListBuilds(ctx, limit)
	if err != nil {
		mainLog.Fatalf("list builds: %v", err)
	}
	if len(records) == 0 {
		mainLog.Infof("no recorded builds")
		return
	}
	for _, rec := range records {
		mainLog.Infof(
			"%s revision=%s fips=%t mode=%s status=%s image=%s at=%s",
			shortID(rec.ID),
			shortID(rec.Revision),
			rec.FIPS,
			rec.Mode,
			rec.Status,
			rec.ImageTag,
			rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		)
	}
}
