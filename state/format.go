package state

import (
	"fmt"
	"strings"
)

// Format is an output image format accepted by the converter.
type Format string

const (
	FormatJPG  Format = "jpg"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatTIF  Format = "tif"
	FormatTIFF Format = "tiff"
	FormatWEBP Format = "webp"
)

func Formats() []Format {
	return []Format{FormatJPG, FormatJPEG, FormatPNG, FormatTIF, FormatTIFF, FormatWEBP}
}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	switch f {
	case FormatJPG, FormatJPEG, FormatPNG, FormatTIF, FormatTIFF, FormatWEBP:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// Ext returns the normalized file extension without the dot.
// jpeg collapses to jpg and tiff to tif so that output names stay short.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatTIFF:
		return "tif"
	default:
		return string(f)
	}
}

func (f Format) IsJPEG() bool { return f == FormatJPG || f == FormatJPEG }

func (f Format) IsTIFF() bool { return f == FormatTIF || f == FormatTIFF }
