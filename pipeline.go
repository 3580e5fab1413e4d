package forge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Build-and-Export Pipeline
////////////////////////////////////////////////////////////////////////////////

// Pipeline runs the five-step build-and-export sequence. Steps are
// strictly ordered and non-retrying: each one extends the build plan
// that the previous step left behind, and the first failure aborts the
// whole run with no image produced.
type Pipeline struct {
	cfg       BuildConfig
	buildID   string
	artifacts ArtifactStore
	store     *Store // optional, nil disables persistence
	events    *buildEventHub
	solver    imageSolverBackend
	log       sourceLogger
}

type pipelineState struct {
	dockerfile strings.Builder
	pinnedHash string
	imageTag   string
}

type stepOutcome struct {
	message   string
	artifacts []string
}

type pipelineStep struct {
	name string
	run  func(ctx context.Context, st *pipelineState) (stepOutcome, error)
}

func newPipeline(
	cfg BuildConfig,
	artifacts ArtifactStore,
	store *Store,
	events *buildEventHub,
	solver imageSolverBackend,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		buildID:   newID(),
		artifacts: artifacts,
		store:     store,
		events:    events,
		solver:    solver,
		log:       appLoggerForProcess().Source("pipeline"),
	}
}

func (p *Pipeline) steps() []pipelineStep {
	return []pipelineStep{
		{name: stepEnvPrep, run: p.runEnvPrep},
		{name: stepToolchain, run: p.runToolchain},
		{name: stepSourcePin, run: p.runSourcePin},
		{name: stepCompile, run: p.runCompile},
		{name: stepExport, run: p.runExport},
	}
}

func (p *Pipeline) Run(ctx context.Context) (BuildRecord, error) {
	rec := newBuildRecord(p.buildID, p.cfg)
	p.persist(ctx, rec)
	p.log.Infof(
		"build %s starting: revision=%s fips=%t mode=%s backend=%s",
		shortID(p.buildID),
		p.cfg.Revision,
		p.cfg.FIPS,
		p.cfg.Mode,
		p.solver.name(),
	)

	st := &pipelineState{
		dockerfile: strings.Builder{},
		pinnedHash: "",
		imageTag:   "",
	}
	st.dockerfile.WriteString("# syntax=docker/dockerfile:1\n\n")

	steps := p.steps()
	for i, step := range steps {
		startedAt := time.Now().UTC()
		p.publishStep(eventStepStarted, step.name, i+1, len(steps), "", "", nil, 0)

		outcome, err := step.run(ctx, st)
		endedAt := time.Now().UTC()
		stepRec := StepOutcome{
			Name:      step.name,
			StartedAt: startedAt,
			EndedAt:   endedAt,
			Message:   outcome.message,
			Err:       "",
			Artifacts: outcome.artifacts,
		}
		if err != nil {
			stepRec.Err = err.Error()
			rec.Steps = append(rec.Steps, stepRec)
			rec.Status = buildStatusError
			p.persist(ctx, rec)
			p.publishStep(
				eventStepEnded,
				step.name,
				i+1,
				len(steps),
				outcome.message,
				err.Error(),
				outcome.artifacts,
				endedAt.Sub(startedAt),
			)
			p.publishStep(eventBuildFailed, step.name, i+1, len(steps), "", err.Error(), nil, 0)
			p.log.Errorf("build %s step %s failed: %v", shortID(p.buildID), step.name, err)
			return rec, fmt.Errorf("step %s: %w", step.name, err)
		}
		rec.Steps = append(rec.Steps, stepRec)
		p.persist(ctx, rec)
		p.publishStep(
			eventStepEnded,
			step.name,
			i+1,
			len(steps),
			outcome.message,
			"",
			outcome.artifacts,
			endedAt.Sub(startedAt),
		)
		p.log.Infof("build %s step %s done: %s", shortID(p.buildID), step.name, outcome.message)
	}

	rec.Status = buildStatusDone
	rec.ImageTag = st.imageTag
	p.persist(ctx, rec)
	p.publishStep(eventBuildCompleted, "", len(steps), len(steps), "image "+st.imageTag, "", nil, 0)
	p.log.Infof("build %s completed: image=%s", shortID(p.buildID), st.imageTag)
	return rec, nil
}

func (p *Pipeline) persist(ctx context.Context, rec BuildRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.PutBuild(ctx, rec); err != nil {
		p.log.Warnf("persist build %s: %v", shortID(rec.ID), err)
	}
}

func (p *Pipeline) publishStep(
	event, step string,
	index, total int,
	message, errText string,
	artifacts []string,
	duration time.Duration,
) {
	if p.events == nil {
		return
	}
	p.events.publish(event, buildEventPayload{
		BuildID:    p.buildID,
		Sequence:   0,
		Step:       step,
		StepIndex:  index,
		TotalSteps: total,
		Status:     "",
		Message:    message,
		Error:      errText,
		Artifacts:  artifacts,
		DurationMS: duration.Milliseconds(),
		At:         time.Time{},
	})
}

////////////////////////////////////////////////////////////////////////////////
// Steps
////////////////////////////////////////////////////////////////////////////////

func (p *Pipeline) runEnvPrep(ctx context.Context, st *pipelineState) (stepOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return stepOutcome{}, err
	}
	renderEnvPrepInstructions(&st.dockerfile)
	path, err := p.artifacts.WriteFile(
		p.buildID,
		"build/builder-packages.txt",
		[]byte(strings.Join(builderPackages(), "\n")+"\n"),
	)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{
		message:   "build environment dependencies pinned",
		artifacts: []string{path},
	}, nil
}

func (p *Pipeline) runToolchain(ctx context.Context, st *pipelineState) (stepOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return stepOutcome{}, err
	}
	if err := renderToolchainInstructions(p.cfg, &st.dockerfile); err != nil {
		return stepOutcome{}, err
	}
	path, err := p.artifacts.WriteFile(
		p.buildID,
		"build/toolchain.txt",
		fmt.Appendf(nil, "installer=%s\nflags=-y --default-toolchain none --no-modify-path\npath=%s\n",
			p.cfg.ToolchainInstallerURL, toolchainBinDir),
	)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{
		message:   "toolchain acquisition staged (non-interactive, no default component)",
		artifacts: []string{path},
	}, nil
}

func (p *Pipeline) runSourcePin(ctx context.Context, st *pipelineState) (stepOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return stepOutcome{}, err
	}
	pinned := p.cfg.Revision
	if p.cfg.Worktree != "" {
		hash, err := pinWorktreeToRevision(ctx, p.cfg.Worktree, p.cfg.Revision)
		if err != nil {
			return stepOutcome{}, err
		}
		st.pinnedHash = hash
		pinned = hash
	}
	if err := renderSourcePinInstructions(p.cfg, &st.dockerfile); err != nil {
		return stepOutcome{}, err
	}
	path, err := p.artifacts.WriteFile(
		p.buildID,
		"build/revision.txt",
		[]byte(pinned+"\n"),
	)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{
		message:   "source pinned to " + shortID(pinned),
		artifacts: []string{path},
	}, nil
}

func (p *Pipeline) runCompile(ctx context.Context, st *pipelineState) (stepOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return stepOutcome{}, err
	}
	renderCompileInstructions(p.cfg, &st.dockerfile)
	planPath, err := p.artifacts.WriteFile(
		p.buildID,
		"build/plan.json",
		mustJSON(map[string]any{
			"build_id":       p.buildID,
			"revision":       p.cfg.Revision,
			"fips":           p.cfg.FIPS,
			"target":         releaseBuildTarget,
			"artifact_paths": []string{
				builderArtifactDir + "/" + artifactServer,
				builderArtifactDir + "/" + artifactAdminTool,
			},
		}),
	)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{
		message:   "release build staged: " + taskRunnerBin + " " + releaseBuildTarget,
		artifacts: []string{planPath},
	}, nil
}

func (p *Pipeline) runExport(ctx context.Context, st *pipelineState) (stepOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return stepOutcome{}, err
	}
	renderExportStage(p.cfg, &st.dockerfile)
	body := []byte(st.dockerfile.String())
	if err := validateDockerfile(body); err != nil {
		return stepOutcome{}, err
	}
	dockerfilePath, err := p.artifacts.WriteFile(p.buildID, "build/Dockerfile", body)
	if err != nil {
		return stepOutcome{}, err
	}
	touched := []string{dockerfilePath}

	st.imageTag = imageTagForBuild(p.cfg)
	contextDir := p.cfg.Worktree
	if contextDir == "" {
		contextDir = "."
	}
	solveRes, err := p.solver.solve(ctx, imageSolveRequest{
		BuildID:           p.buildID,
		ImageTag:          st.imageTag,
		ContextDir:        contextDir,
		DockerfileBody:    body,
		DockerfileRelPath: dockerfilePath,
	})
	if err != nil {
		// No image.txt, no manifests: an aborted export leaves no trace of
		// a produced image.
		return stepOutcome{message: "", artifacts: touched}, err
	}
	metaPath, err := p.artifacts.WriteFile(
		p.buildID,
		"build/solve-metadata.json",
		mustJSON(solveRes.metadata),
	)
	if err != nil {
		return stepOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, metaPath)

	imagePath, err := p.artifacts.WriteFile(p.buildID, "build/image.txt", []byte(st.imageTag+"\n"))
	if err != nil {
		return stepOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, imagePath)

	manifests, err := renderRuntimeManifests(st.imageTag)
	if err != nil {
		return stepOutcome{message: "", artifacts: touched}, err
	}
	manifestPath, err := p.artifacts.WriteFile(p.buildID, "deploy/manifests.yaml", []byte(manifests))
	if err != nil {
		return stepOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, manifestPath)

	return stepOutcome{
		message:   solveRes.message,
		artifacts: touched,
	}, nil
}
