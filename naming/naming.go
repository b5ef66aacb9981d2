package naming

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Ystanxx/HEIC2any/state"
)

// Render expands the output name template for a job. Supported tokens:
// {name} (source file name without extension), {index}, {date},
// {datetime}, {width}, {height}. Width and height come from the requested
// size, falling back to the original size once known.
func Render(template string, job *state.Job, index int) string {
	stem := strings.TrimSuffix(filepath.Base(job.SourcePath), filepath.Ext(job.SourcePath))
	size := job.TargetSize
	if size.IsZero() {
		size = job.OriginalSize
	}
	now := time.Now()

	r := strings.NewReplacer(
		"{name}", stem,
		"{index}", strconv.Itoa(index),
		"{date}", now.Format("20060102"),
		"{datetime}", now.Format("20060102_150405"),
		"{width}", strconv.Itoa(size.W),
		"{height}", strconv.Itoa(size.H),
	)
	return r.Replace(template)
}

// BuildOutputPath returns the full output path for a job, including the
// normalized extension. index is the 1-based position of the job in the
// batch.
func BuildOutputPath(job *state.Job, index int) string {
	name := Render(job.Template, job, index)
	return filepath.Join(job.ExportDir, name+"."+job.Format.Ext())
}
