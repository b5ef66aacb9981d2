package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Ystanxx/HEIC2any/config"
	"github.com/Ystanxx/HEIC2any/converter"
	"github.com/Ystanxx/HEIC2any/events"
	"github.com/Ystanxx/HEIC2any/history"
	"github.com/Ystanxx/HEIC2any/naming"
	"github.com/Ystanxx/HEIC2any/state"
	"github.com/Ystanxx/HEIC2any/tasks"
	"github.com/Ystanxx/HEIC2any/validation"
)

// CollisionPolicy decides what happens when a job's output path already
// exists before the run starts.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionSkip      CollisionPolicy = "skip"
)

// CollectSources expands the given files and directories into a list of
// convertible image paths, sniffing file types by magic bytes rather than
// trusting extensions. Unreadable or unrecognized files are skipped.
func CollectSources(paths []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sources []string
	appendIfImage := func(path string) {
		ft, err := validation.DetectFile(path)
		if err != nil {
			logger.Debug("skipping file", zap.String("path", path), zap.Error(err))
			return
		}
		if validation.IsSupportedSource(ft) {
			sources = append(sources, path)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			appendIfImage(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				appendIfImage(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}
	return sources, nil
}

// BuildJobs creates one job per source, seeded from the configured
// defaults.
func BuildJobs(sources []string, d config.JobDefaults) ([]*state.Job, error) {
	format, err := state.ParseFormat(d.Format)
	if err != nil {
		return nil, err
	}
	jobs := make([]*state.Job, 0, len(sources))
	for _, src := range sources {
		job := state.NewJob(src, d.OutputDir)
		job.Format = format
		job.Quality = d.Quality
		job.DPI = d.DPI
		job.TargetSize = d.Size
		job.KeepAspect = d.KeepAspect
		if d.Template != "" {
			job.Template = d.Template
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Preflight checks every job's output path for a pre-existing file. Under
// the skip policy a colliding job's token is cancelled and a neutral
// reason recorded; the worker will mark it cancelled without converting.
// Returns the colliding output paths.
func Preflight(jobs []*state.Job, policy CollisionPolicy) []string {
	var collisions []string
	for idx, job := range jobs {
		out := naming.BuildOutputPath(job, idx+1)
		if _, err := os.Stat(out); err != nil {
			continue
		}
		collisions = append(collisions, out)
		if policy == CollisionSkip {
			job.Token.Cancel()
			job.Error = "output exists, skipped"
		}
	}
	return collisions
}

// ConvertFunc adapts a Converter to the task manager's collaborator
// signature, building the output path from the job's naming template.
func ConvertFunc(conv *converter.Converter) tasks.ConvertFunc {
	return func(idx int, job *state.Job) (int, int, error) {
		out := naming.BuildOutputPath(job, idx+1)
		return conv.Convert(job, out)
	}
}

// Summary aggregates the terminal statuses of one run.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}

func (s Summary) Done() bool {
	return s.Completed+s.Failed+s.Cancelled >= s.Total
}

var errRunnerReused = errors.New("batch: runner already ran, create a new one")

// Runner drives one batch through the task manager and waits for every
// job to reach a terminal status. It aggregates progress from JobUpdated
// snapshots only, never by re-reading the live jobs, and publishes
// AllDone once the batch is finished.
//
// A Runner is single-use: Run subscribes to the bus and the subscription
// cannot be withdrawn, so a second Run would race the first run's
// handler. Build a fresh Runner per batch.
type Runner struct {
	manager *tasks.Manager
	bus     *events.Bus
	store   *history.Store // optional
	logger  *zap.Logger

	mu       sync.Mutex
	used     bool
	terminal map[int]bool
	summary  Summary
}

func NewRunner(manager *tasks.Manager, bus *events.Bus, store *history.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		manager: manager,
		bus:     bus,
		store:   store,
		logger:  logger,
	}
}

// Run starts the batch and blocks until all jobs are terminal or the
// context is cancelled. Context cancellation stops the manager; the
// returned summary reflects whatever statuses were observed.
func (r *Runner) Run(ctx context.Context, jobs []*state.Job) (Summary, error) {
	done := make(chan struct{})

	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		return Summary{}, errRunnerReused
	}
	r.used = true
	r.terminal = make(map[int]bool, len(jobs))
	r.summary = Summary{Total: len(jobs)}
	for idx, job := range jobs {
		if job.Status.Terminal() {
			r.markLocked(idx, job.Status)
		}
	}
	finished := r.summary.Done()
	r.mu.Unlock()
	if finished {
		close(done)
	}

	r.bus.Subscribe(events.TypeJobUpdated, func(e events.Event) {
		upd, ok := e.(events.JobUpdated)
		if !ok || !upd.Job.Status.Terminal() {
			return
		}
		r.mu.Lock()
		if r.terminal[upd.Index] {
			r.mu.Unlock()
			return
		}
		r.markLocked(upd.Index, upd.Job.Status)
		r.record(upd)
		summary := r.summary
		r.mu.Unlock()

		if summary.Done() {
			r.bus.Publish(events.AllDone{
				Completed: summary.Completed,
				Failed:    summary.Failed,
				Cancelled: summary.Cancelled,
			})
			close(done)
		}
	})

	if err := r.manager.Start(jobs); err != nil {
		return r.Summary(), err
	}

	select {
	case <-ctx.Done():
		r.manager.Stop()
		return r.Summary(), ctx.Err()
	case <-done:
		return r.Summary(), nil
	}
}

func (r *Runner) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Runner) markLocked(idx int, status state.Status) {
	r.terminal[idx] = true
	switch status {
	case state.StatusCompleted:
		r.summary.Completed++
	case state.StatusFailed:
		r.summary.Failed++
	case state.StatusCancelled:
		r.summary.Cancelled++
	}
}

func (r *Runner) record(upd events.JobUpdated) {
	if r.store == nil {
		return
	}
	job := upd.Job
	rec := history.Record{
		JobID:      job.ID,
		SourcePath: job.SourcePath,
		OutputPath: naming.BuildOutputPath(&job, upd.Index+1),
		Format:     string(job.Format),
		Status:     string(job.Status),
		Error:      job.Error,
		Width:      job.OriginalSize.W,
		Height:     job.OriginalSize.H,
	}
	if err := r.store.Record(rec); err != nil {
		r.logger.Warn("failed to record history", zap.String("job_id", job.ID), zap.Error(err))
	}
}
