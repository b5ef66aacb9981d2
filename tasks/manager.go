package tasks

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ystanxx/HEIC2any/events"
	"github.com/Ystanxx/HEIC2any/state"
)

// ConvertFunc performs one conversion and returns the output dimensions.
// The index is the job's position in the slice passed to Start; naming
// templates use it as the 1-based sequence number.
type ConvertFunc func(index int, job *state.Job) (int, int, error)

// Options tunes the worker pool. The poll and push intervals exist so
// tests can shrink them; zero values fall back to the defaults below.
type Options struct {
	Threads       int
	QueueCapacity int           // defaults to 2 x Threads
	PollInterval  time.Duration // worker idle poll, default 200ms
	PushTimeout   time.Duration // enqueue push timeout, default 100ms
}

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultPushTimeout  = 100 * time.Millisecond
)

var errNoConverter = errors.New("tasks: converter is not configured")

// Manager executes jobs across a fixed-size worker pool fed by a bounded
// queue of job indices. It supports start, pause, resume and stop, and
// publishes JobUpdated/OverallUpdated events for every status change.
//
// The manager owns the runtime fields of the jobs handed to Start until
// each job reaches a terminal status. Per-job fields are written only by
// the single worker holding the job's index (or by the manager while the
// index sits in the queue or pause buffer, under the manager lock), so no
// per-job lock is needed.
type Manager struct {
	mu      sync.Mutex
	threads int
	opts    Options

	queue   chan int
	buffer  []int // indices drained out of the queue by Pause
	jobs    []*state.Job
	stopCh  chan struct{}
	running bool
	paused  bool
	stopped bool

	convert ConvertFunc
	bus     *events.Bus
	logger  *zap.Logger
}

func NewManager(opts Options, convert ConvertFunc, bus *events.Bus, logger *zap.Logger) *Manager {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = defaultPushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		threads: opts.Threads,
		opts:    opts,
		convert: convert,
		bus:     bus,
		logger:  logger,
	}
}

// SetThreads sets the pool size for the next Start call. A running pool is
// not resized.
func (m *Manager) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.threads = n
	m.mu.Unlock()
}

// Running reports whether a worker pool currently exists.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start spawns the worker pool and enqueues every job that is not already
// terminal or running. If a pool already exists, Start behaves as Resume
// and does not enqueue anything: jobs appended to the slice mid-run are
// not picked up (known limitation carried over from the original).
func (m *Manager) Start(jobs []*state.Job) error {
	if m.convert == nil {
		return errNoConverter
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.Resume()
		return nil
	}
	m.paused = false
	m.stopped = false
	m.stopCh = make(chan struct{})
	capacity := m.opts.QueueCapacity
	if capacity <= 0 {
		capacity = 2 * m.threads
	}
	m.queue = make(chan int, capacity)
	m.buffer = nil
	m.jobs = jobs
	m.running = true
	threads := m.threads
	queue, stopCh := m.queue, m.stopCh
	m.mu.Unlock()

	m.logger.Info("starting worker pool",
		zap.Int("workers", threads),
		zap.Int("queue_capacity", capacity),
		zap.Int("jobs", len(jobs)),
	)

	for i := 0; i < threads; i++ {
		go m.worker(i, jobs, queue, stopCh)
	}

	for idx := range jobs {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return nil
		}
		if m.paused {
			m.divertLocked(idx, jobs[idx])
			continue
		}
		job := jobs[idx]
		switch job.Status {
		case state.StatusCompleted, state.StatusRunning, state.StatusCancelled:
			m.mu.Unlock()
			continue
		case state.StatusPaused:
			// Enqueued without re-marking; the worker flips it to
			// running when it picks the index up.
			m.mu.Unlock()
		default:
			job.Status = state.StatusWaiting
			job.Progress = 0
			job.Error = ""
			snap := *job
			m.mu.Unlock()
			m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})
		}

	pushLoop:
		for {
			switch m.push(idx, queue, stopCh) {
			case pushOK:
				break pushLoop
			case pushStopped:
				return nil
			case pushPaused:
				m.mu.Lock()
				if m.paused {
					m.divertLocked(idx, jobs[idx])
					break pushLoop
				}
				// resumed between checks; try the queue again
				m.mu.Unlock()
			}
		}
	}
	return nil
}

// divertLocked moves a not-yet-started index into the pause buffer so
// that Resume restores it; a pause must never strand a job. The caller
// holds the manager lock and divertLocked releases it.
func (m *Manager) divertLocked(idx int, job *state.Job) {
	if job.Status.Terminal() || job.Status == state.StatusRunning {
		m.mu.Unlock()
		return
	}
	m.buffer = append(m.buffer, idx)
	if job.Status == state.StatusPaused {
		m.mu.Unlock()
		return
	}
	job.Status = state.StatusPaused
	snap := *job
	m.mu.Unlock()
	m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})
}

type pushResult int

const (
	pushOK pushResult = iota
	pushPaused
	pushStopped
)

// push blocks until the index fits into the queue, re-checking the pause
// and stop flags every PushTimeout so a full queue cannot wedge the fill
// loop during shutdown.
func (m *Manager) push(idx int, queue chan int, stopCh chan struct{}) pushResult {
	for {
		select {
		case queue <- idx:
			return pushOK
		case <-stopCh:
			return pushStopped
		case <-time.After(m.opts.PushTimeout):
			m.mu.Lock()
			stopped, paused := m.stopped, m.paused
			m.mu.Unlock()
			if stopped {
				return pushStopped
			}
			if paused {
				return pushPaused
			}
		}
	}
}

// Pause drains every queued index into a side buffer and marks the
// corresponding jobs paused. Jobs a worker has already begun run to
// completion; pause only affects not-yet-started work.
func (m *Manager) Pause() {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	drained := m.drainQueueLocked()
	m.buffer = append(m.buffer, drained...)
	snaps := make([]events.JobUpdated, 0, len(drained))
	for _, idx := range drained {
		job := m.jobs[idx]
		job.Status = state.StatusPaused
		snaps = append(snaps, events.JobUpdated{Index: idx, Job: *job})
	}
	m.mu.Unlock()

	m.logger.Info("paused", zap.Int("buffered", len(drained)))
	for _, s := range snaps {
		m.bus.Publish(s)
	}
	if len(snaps) > 0 {
		m.bus.Publish(events.OverallUpdated{})
	}
}

// Resume re-enqueues the pause buffer in its original order and clears
// the pause flag. It is also what Start does when a pool already exists.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.paused = false
	buffered := m.buffer
	m.buffer = nil
	queue, stopCh := m.queue, m.stopCh
	snaps := make([]events.JobUpdated, 0, len(buffered))
	for _, idx := range buffered {
		job := m.jobs[idx]
		job.Status = state.StatusWaiting
		snaps = append(snaps, events.JobUpdated{Index: idx, Job: *job})
	}
	m.mu.Unlock()

	m.logger.Info("resumed", zap.Int("requeued", len(buffered)))
	for _, s := range snaps {
		m.bus.Publish(s)
	}
	for i, idx := range buffered {
		switch m.push(idx, queue, stopCh) {
		case pushOK:
		case pushStopped:
			// Stop sweeps whatever we could not requeue.
			m.logger.Debug("resume aborted", zap.Int("remaining", len(buffered)-i))
			return
		case pushPaused:
			// Paused again mid-refill: the rest goes back to the buffer.
			for _, rest := range buffered[i:] {
				m.mu.Lock()
				m.divertLocked(rest, m.jobs[rest])
			}
			return
		}
	}
}

// Stop cancels every job's token, drains the queue and pause buffer, marks
// all not-yet-started jobs cancelled and tears down the pool. It does not
// wait for in-flight workers: no new work starts, but a worker mid-
// conversion finishes its current job. Stop is idempotent and a later
// Start builds a fresh pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.paused = false
	m.running = false
	close(m.stopCh)
	m.drainQueueLocked()
	m.buffer = nil

	var snaps []events.JobUpdated
	for idx, job := range m.jobs {
		job.Token.Cancel()
		if job.Status == state.StatusWaiting || job.Status == state.StatusPaused {
			job.Status = state.StatusCancelled
			job.Progress = 100
			snaps = append(snaps, events.JobUpdated{Index: idx, Job: *job})
		}
	}
	m.mu.Unlock()

	m.logger.Info("stopped", zap.Int("cancelled", len(snaps)))
	for _, s := range snaps {
		m.bus.Publish(s)
	}
	m.bus.Publish(events.OverallUpdated{})
}

// drainQueueLocked empties the index queue without blocking. Callers hold
// the manager lock.
func (m *Manager) drainQueueLocked() []int {
	var drained []int
	for {
		select {
		case idx := <-m.queue:
			drained = append(drained, idx)
		default:
			return drained
		}
	}
}

func (m *Manager) worker(id int, jobs []*state.Job, queue chan int, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case idx := <-queue:
			m.runOne(id, idx, jobs[idx])
		case <-time.After(m.opts.PollInterval):
			// idle; loop back and observe the stop channel
		}
	}
}

func (m *Manager) runOne(id, idx int, job *state.Job) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.paused {
		// Pause raced with this dequeue: the job has not started, so it
		// belongs in the pause buffer, not on a worker.
		m.buffer = append(m.buffer, idx)
		job.Status = state.StatusPaused
		snap := *job
		m.mu.Unlock()
		m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})
		return
	}
	if job.Token.IsCancelled() {
		job.Status = state.StatusCancelled
		job.Progress = 100
		snap := *job
		m.mu.Unlock()
		m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})
		m.bus.Publish(events.OverallUpdated{})
		return
	}
	job.Status = state.StatusRunning
	job.Progress = 1
	job.Error = ""
	snap := *job
	m.mu.Unlock()
	m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})

	w, h, err := m.convert(idx, job)

	m.mu.Lock()
	switch {
	case err == nil:
		job.OriginalSize = state.Size{W: w, H: h}
		job.Status = state.StatusCompleted
		job.Progress = 100
	case errors.Is(err, state.ErrCancelled):
		job.Status = state.StatusCancelled
		job.Progress = 100
	default:
		job.Status = state.StatusFailed
		job.Error = err.Error()
		job.Progress = 100
	}
	snap = *job
	m.mu.Unlock()

	switch snap.Status {
	case state.StatusFailed:
		m.logger.Warn("job failed",
			zap.Int("worker", id),
			zap.Int("index", idx),
			zap.String("source", snap.SourcePath),
			zap.String("error", snap.Error),
		)
	case state.StatusCompleted:
		m.logger.Debug("job completed",
			zap.Int("worker", id),
			zap.Int("index", idx),
			zap.String("source", snap.SourcePath),
			zap.Int("width", snap.OriginalSize.W),
			zap.Int("height", snap.OriginalSize.H),
		)
	}
	m.bus.Publish(events.JobUpdated{Index: idx, Job: snap})
	m.bus.Publish(events.OverallUpdated{})
}
