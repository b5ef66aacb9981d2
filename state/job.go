package state

import (
	"errors"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
//
// waiting -> running -> completed | failed
// waiting <-> paused
// any non-terminal state -> cancelled
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further automatic transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrCancelled is returned by a cooperative converter that observed the
// job's cancellation token mid-conversion. The worker maps it to
// StatusCancelled with no error message.
var ErrCancelled = errors.New("conversion cancelled")

// Size is a width/height pair. The zero value means "not specified".
type Size struct {
	W int `yaml:"width"`
	H int `yaml:"height"`
}

func (s Size) IsZero() bool { return s.W == 0 && s.H == 0 }

// Job is one source-image-to-output-file conversion request.
//
// Configuration fields belong to the caller. Once the job is handed to the
// task manager, the runtime fields (Status, Progress, Error, OriginalSize)
// are written only by the manager until the job reaches a terminal status;
// observers should read the snapshots carried by JobUpdated events instead
// of the live struct.
type Job struct {
	ID         string
	SourcePath string
	ExportDir  string
	Format     Format

	Quality          int // 1-100, JPEG and WEBP
	PNGCompressLevel int // 0-9
	JPEGProgressive  bool
	JPEGOptimize     bool
	WebpLossless     bool
	WebpMethod       int // 0-6 encoder effort
	TIFFCompression  string

	DPI        Size
	TargetSize Size
	KeepAspect bool
	Template   string

	Status       Status
	Progress     int // 0-100
	Error        string
	OriginalSize Size

	Token *CancellationToken
}

// NewJob builds a job with the original application's defaults.
func NewJob(sourcePath, exportDir string) *Job {
	return &Job{
		ID:               uuid.NewString(),
		SourcePath:       sourcePath,
		ExportDir:        exportDir,
		Format:           FormatJPG,
		Quality:          90,
		PNGCompressLevel: 6,
		JPEGOptimize:     true,
		WebpMethod:       4,
		TIFFCompression:  "deflate",
		DPI:              Size{W: 300, H: 300},
		KeepAspect:       true,
		Template:         "{name}_{index}",
		Status:           StatusWaiting,
		Token:            NewCancellationToken(),
	}
}

// Reset returns a terminal job to the waiting state so it can be started
// again. The token is replaced: a cancelled token cannot be reused.
func (j *Job) Reset() {
	j.Status = StatusWaiting
	j.Progress = 0
	j.Error = ""
	j.Token = NewCancellationToken()
}
