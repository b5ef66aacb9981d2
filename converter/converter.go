package converter

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"

	"github.com/Ystanxx/HEIC2any/state"
)

// Converter transcodes a single source image to the job's target format.
// It checks the job's cancellation token between the decode, resize and
// encode stages and returns state.ErrCancelled if it fires.
type Converter struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{logger: logger}
}

// Convert reads the job's source image, applies the requested size, and
// writes it to dstPath in the job's format. It returns the output
// dimensions.
func (c *Converter) Convert(job *state.Job, dstPath string) (int, int, error) {
	c.logger.Debug("starting conversion",
		zap.String("input", job.SourcePath),
		zap.String("output", dstPath),
		zap.String("format", string(job.Format)),
	)

	src, err := openImage(job.SourcePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	if job.Token.IsCancelled() {
		return 0, 0, state.ErrCancelled
	}

	ow, oh := src.Bounds().Dx(), src.Bounds().Dy()
	tw, th := targetSize(ow, oh, job.TargetSize, job.KeepAspect)

	var out *image.NRGBA
	if tw != ow || th != oh {
		out = imaging.Resize(src, tw, th, imaging.Lanczos)
	} else {
		out = imaging.Clone(src)
	}
	if job.Token.IsCancelled() {
		return 0, 0, state.ErrCancelled
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, 0, fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := c.save(job, out, dstPath); err != nil {
		return 0, 0, err
	}

	c.logger.Debug("conversion completed",
		zap.String("output", dstPath),
		zap.Int("width", tw),
		zap.Int("height", th),
	)
	return tw, th, nil
}

func (c *Converter) save(job *state.Job, img *image.NRGBA, dstPath string) error {
	switch {
	case job.Format.IsJPEG():
		// The stdlib encoder has no progressive mode; the flag is
		// accepted but has no effect on output.
		flat := flattenOnWhite(img)
		if err := imaging.Save(flat, dstPath, imaging.JPEGQuality(clampQuality(job.Quality))); err != nil {
			return fmt.Errorf("failed to save JPEG: %w", err)
		}
	case job.Format == state.FormatPNG:
		if err := imaging.Save(img, dstPath, imaging.PNGCompressionLevel(pngLevel(job.PNGCompressLevel))); err != nil {
			return fmt.Errorf("failed to save PNG: %w", err)
		}
	case job.Format.IsTIFF():
		if err := saveTIFF(img, dstPath, job.TIFFCompression); err != nil {
			return fmt.Errorf("failed to save TIFF: %w", err)
		}
	case job.Format == state.FormatWEBP:
		if err := saveWEBP(img, dstPath, job); err != nil {
			return fmt.Errorf("failed to save WEBP: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", job.Format)
	}
	return nil
}

func openImage(path string) (image.Image, error) {
	if isHEIF(path) {
		return openHEIF(path)
	}
	return imaging.Open(path)
}

func isHEIF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

// targetSize resolves the requested output size against the source size.
// With keep-aspect, a single specified edge scales the other; when both
// edges are given the width wins and the height is recomputed.
func targetSize(ow, oh int, req state.Size, keepAspect bool) (int, int) {
	tw, th := req.W, req.H
	if tw <= 0 && th <= 0 {
		return ow, oh
	}
	if keepAspect {
		switch {
		case tw > 0 && th <= 0:
			th = int(math.Round(float64(oh) * float64(tw) / float64(ow)))
		case th > 0 && tw <= 0:
			tw = int(math.Round(float64(ow) * float64(th) / float64(oh)))
		default:
			th = int(math.Round(float64(oh) * float64(tw) / float64(ow)))
		}
	} else {
		if tw <= 0 {
			tw = ow
		}
		if th <= 0 {
			th = oh
		}
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

// flattenOnWhite composites any transparency onto a white background.
// JPEG cannot carry an alpha channel.
func flattenOnWhite(img *image.NRGBA) *image.NRGBA {
	if img.Opaque() {
		return img
	}
	flat := image.NewNRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
	return flat
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// pngLevel maps the job's 0-9 compression level onto the four levels the
// stdlib encoder supports.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func saveTIFF(img image.Image, dstPath, compression string) error {
	var ct tiff.CompressionType
	switch strings.ToLower(compression) {
	case "", "deflate":
		ct = tiff.Deflate
	case "lzw":
		ct = tiff.LZW
	case "none":
		ct = tiff.Uncompressed
	default:
		return fmt.Errorf("unknown tiff compression: %s", compression)
	}

	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return tiff.Encode(f, img, &tiff.Options{Compression: ct})
}

func saveWEBP(img image.Image, dstPath string, job *state.Job) error {
	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return webp.Encode(f, img, &webp.Options{
		Lossless: job.WebpLossless,
		Quality:  float32(clampQuality(job.Quality)),
	})
}
