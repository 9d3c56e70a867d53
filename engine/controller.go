package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"vidgen/config"
	"vidgen/effect"
	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/task"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BatchMode decides what RunBatch does after a task fails.
type BatchMode string

const (
	BatchAbort    BatchMode = "abort"
	BatchContinue BatchMode = "continue"
)

func ParseBatchMode(s string) (BatchMode, error) {
	switch m := BatchMode(s); m {
	case BatchAbort, BatchContinue:
		return m, nil
	}
	return "", fmt.Errorf("invalid batch mode %q: want abort or continue", s)
}

// Failure is one failed task of a batch.
type Failure struct {
	TaskID string
	Title  string
	Stage  task.Stage // last stage the task reached
	Err    error
}

// RunSummary is the outcome of a batch. Skipped lists the IDs of tasks never started
// because the batch stopped early.
type RunSummary struct {
	Succeeded int
	Outputs   []string
	Failed    []Failure
	Skipped   []string
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Exec       MediaExecutor
	Speech     SpeechService
	Captions   CaptionRenderer
	Effects    *effect.Registry
	HTTPClient *http.Client
}

// Controller runs tasks through every pipeline stage.
type Controller struct {
	cfg        *config.Config
	exec       MediaExecutor
	assembler  *Assembler
	chainer    *Chainer
	compositor *Compositor
	finalizer  *Finalizer
	log        zerolog.Logger
}

func NewController(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Controller, error) {
	if deps.Exec == nil || deps.Speech == nil || deps.Captions == nil {
		return nil, errors.New("controller needs a media executor, a speech service and a caption renderer")
	}
	log := logging.WithComponent(logger, "controller")
	return &Controller{
		cfg:        cfg,
		exec:       deps.Exec,
		assembler:  NewAssembler(deps.Exec, deps.Speech, deps.Captions, deps.Effects, deps.HTTPClient, cfg.MaxInputSize, logger),
		chainer:    NewChainer(deps.Exec, logger),
		compositor: NewCompositor(deps.Exec, logger),
		finalizer: NewFinalizer(deps.Exec, FinalizerOptions{
			WatermarkScale: cfg.WatermarkScale,
			MusicVolume:    cfg.BgVolume,
			HTTPClient:     deps.HTTPClient,
			MaxInputSize:   cfg.MaxInputSize,
		}, logger),
		log: log,
	}, nil
}

// Run renders one task and returns the path of the deliverable in the output directory.
// Temporary files are removed on every return path. A canceled ctx yields ctx.Err().
func (c *Controller) Run(ctx context.Context, t *task.Task) (string, error) {
	log := logging.WithTask(c.log, t.ID, t.Settings.Title)
	start := time.Now()
	advance(t, log, task.StageInit)

	out, err := c.run(ctx, log, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = ctxErr
		}
		var failed task.Stage
		t.Update(func(t *task.Task) {
			t.FailedStage = t.Stage
			t.Stage = task.StageFailed
			failed = t.FailedStage
		})
		log.Error().Err(err).Str("stage", string(failed)).Msg("render failed")
		return "", err
	}

	log.Info().Str("output", out).Dur("elapsed", time.Since(start)).Msg("render finished")
	return out, nil
}

func (c *Controller) run(ctx context.Context, log zerolog.Logger, t *task.Task) (string, error) {
	res, err := NewResources(c.cfg.TempDir, t.ID, log)
	if err != nil {
		return "", err
	}
	defer res.ReleaseAll()

	settings := t.Settings
	if settings.Font == "" {
		settings.Font = c.cfg.DefaultFont
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}
	if len(t.Segments) == 0 {
		return "", task.ErrEmptyTask
	}
	tr, err := ResolveTransition(t.Segments, c.cfg.Transition, c.cfg.TransitionDuration, log)
	if err != nil {
		return "", err
	}
	advance(t, log, task.StageSettingsGathered)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rc, ok := c.exec.(ResourceChecker); ok {
		if err := rc.CheckResources(ctx); err != nil {
			return "", fmt.Errorf("resource check: %w", err)
		}
	}
	captions, backgrounds, err := c.assemble(ctx, res, t.Segments, settings)
	if err != nil {
		return "", err
	}
	advance(t, log, task.StageSegmentsAssembled)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	frame := frameOf(settings)
	bgTimeline, err := c.chainer.Chain(ctx, res, backgrounds, tr, frame, false)
	if err != nil {
		return "", fmt.Errorf("chain backgrounds: %w", err)
	}
	captionTimeline, err := c.chainer.Chain(ctx, res, captions, tr, frame, true)
	if err != nil {
		return "", fmt.Errorf("chain captions: %w", err)
	}
	c.releaseConsumed(res, log, bgTimeline, backgrounds)
	c.releaseConsumed(res, log, captionTimeline, captions)
	advance(t, log, task.StageTimelinesChained)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	composite, err := c.compositor.Composite(ctx, res, bgTimeline, captionTimeline, settings)
	if err != nil {
		return "", fmt.Errorf("composite: %w", err)
	}
	c.releaseConsumed(res, log, composite, []ffmpeg.Artifact{bgTimeline, captionTimeline})
	advance(t, log, task.StageComposited)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	final, err := c.finalizer.Finalize(ctx, res, composite, settings)
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	advance(t, log, task.StageFinalized)

	dst := filepath.Join(c.cfg.OutputDir, settings.OutputName())
	if err := res.Promote(final.Path, dst); err != nil {
		return "", err
	}
	t.Update(func(t *task.Task) { t.OutputPath = dst })
	advance(t, log, task.StageDone)
	return dst, nil
}

// assemble builds every segment with up to SegmentWorkers in flight. Results keep segment
// order regardless of completion order.
func (c *Controller) assemble(ctx context.Context, res *Resources, segments []task.Segment, settings task.VideoSettings) (captions, backgrounds []ffmpeg.Artifact, err error) {
	captions = make([]ffmpeg.Artifact, len(segments))
	backgrounds = make([]ffmpeg.Artifact, len(segments))

	workers := c.cfg.SegmentWorkers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			capTrack, bg, err := c.assembler.Assemble(gctx, res, i, seg, settings)
			if err != nil {
				return err
			}
			captions[i], backgrounds[i] = capTrack, bg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return captions, backgrounds, nil
}

// releaseConsumed drops inputs that were merged into out.
func (c *Controller) releaseConsumed(res *Resources, log zerolog.Logger, out ffmpeg.Artifact, inputs []ffmpeg.Artifact) {
	for _, in := range inputs {
		if in.Path == out.Path {
			continue
		}
		if err := res.Release(in.Path); err != nil {
			log.Warn().Err(err).Str("path", in.Path).Msg("release intermediate")
		}
	}
}

func advance(t *task.Task, log zerolog.Logger, s task.Stage) {
	t.Update(func(t *task.Task) { t.Stage = s })
	log.Debug().Str("stage", string(s)).Msg("stage reached")
}

// RunBatch renders tasks strictly in order. In BatchAbort mode the first failure stops the
// batch and is returned; in BatchContinue mode failures are only recorded in the summary.
func (c *Controller) RunBatch(ctx context.Context, tasks []*task.Task, mode BatchMode) (RunSummary, error) {
	var sum RunSummary
	skipRest := func(from int) {
		for _, t := range tasks[from:] {
			t.Update(func(t *task.Task) { t.Status = task.StatusCanceled })
			sum.Skipped = append(sum.Skipped, t.ID)
		}
	}

	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			skipRest(i)
			return sum, err
		}

		t.Update(func(t *task.Task) {
			t.Status = task.StatusProcessing
			t.StartedAt = time.Now()
		})
		out, err := c.Run(ctx, t)
		var failed task.Stage
		t.Update(func(t *task.Task) {
			t.CompletedAt = time.Now()
			failed = t.FailedStage
			if err != nil {
				t.Status = task.StatusFailed
				t.Error = err.Error()
				return
			}
			t.Status = task.StatusCompleted
		})

		if err != nil {
			sum.Failed = append(sum.Failed, Failure{TaskID: t.ID, Title: t.Settings.Title, Stage: failed, Err: err})
			if mode == BatchAbort || ctx.Err() != nil {
				skipRest(i + 1)
				c.log.Error().Int("skipped", len(sum.Skipped)).Msg("batch stopped")
				return sum, fmt.Errorf("task %s (%s): %w", t.ID, t.Settings.Title, err)
			}
			continue
		}

		sum.Succeeded++
		sum.Outputs = append(sum.Outputs, out)
	}

	c.log.Info().Int("succeeded", sum.Succeeded).Int("failed", len(sum.Failed)).Msg("batch finished")
	return sum, nil
}
