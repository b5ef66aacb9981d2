package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationToken_CancelIsPermanentAndIdempotent(t *testing.T) {
	token := NewCancellationToken()
	assert.False(t, token.IsCancelled())

	token.Cancel()
	token.Cancel()
	assert.True(t, token.IsCancelled())
}

func TestCancellationToken_ConcurrentAccess(t *testing.T) {
	token := NewCancellationToken()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			token.Cancel()
		}()
		go func() {
			defer wg.Done()
			_ = token.IsCancelled()
		}()
	}
	wg.Wait()

	assert.True(t, token.IsCancelled())
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []Status{StatusWaiting, StatusRunning, StatusPaused} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"jpg", FormatJPG, false},
		{"JPEG", FormatJPEG, false},
		{".png", FormatPNG, false},
		{" tif ", FormatTIF, false},
		{"tiff", FormatTIFF, false},
		{"webp", FormatWEBP, false},
		{"bmp", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got)
	}
}

func TestFormat_Ext(t *testing.T) {
	assert.Equal(t, "jpg", FormatJPEG.Ext())
	assert.Equal(t, "jpg", FormatJPG.Ext())
	assert.Equal(t, "tif", FormatTIFF.Ext())
	assert.Equal(t, "png", FormatPNG.Ext())
	assert.Equal(t, "webp", FormatWEBP.Ext())
}

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob("photo.heic", "out")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Equal(t, FormatJPG, job.Format)
	assert.Equal(t, 90, job.Quality)
	assert.Equal(t, Size{W: 300, H: 300}, job.DPI)
	assert.True(t, job.KeepAspect)
	assert.Equal(t, "{name}_{index}", job.Template)
	require.NotNil(t, job.Token)
	assert.False(t, job.Token.IsCancelled())
}

func TestJob_ResetReplacesToken(t *testing.T) {
	job := NewJob("photo.heic", "out")
	old := job.Token
	old.Cancel()
	job.Status = StatusCancelled
	job.Progress = 100
	job.Error = "output exists, skipped"

	job.Reset()

	assert.Equal(t, StatusWaiting, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, job.Error)
	assert.NotSame(t, old, job.Token)
	assert.False(t, job.Token.IsCancelled())
}
