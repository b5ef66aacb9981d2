package validation

import (
	"bytes"
	"io"
	"os"
)

type FileType string

const (
	FileTypeHEIC FileType = "heic"
	FileTypeHEIF FileType = "heif"
	FileTypeJPEG FileType = "jpeg"
	FileTypePNG  FileType = "png"
	FileTypeTIFF FileType = "tiff"
	FileTypeWEBP FileType = "webp"
)

var magicBytes = map[FileType][]byte{
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
}

// ISO BMFF brands inside the ftyp box at offset 8.
var heifBrands = map[string]FileType{
	"heic": FileTypeHEIC,
	"heix": FileTypeHEIC,
	"hevc": FileTypeHEIC,
	"mif1": FileTypeHEIF,
	"msf1": FileTypeHEIF,
	"heim": FileTypeHEIF,
	"heis": FileTypeHEIF,
}

// DetectFileType sniffs the image type from the first bytes of the
// reader. It does not rewind the reader.
func DetectFileType(r io.Reader) (FileType, error) {
	buffer := make([]byte, 32)
	n, err := io.ReadFull(r, buffer)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	buffer = buffer[:n]

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer, signature) {
			return fileType, nil
		}
	}
	if len(buffer) >= 12 && bytes.Equal(buffer[4:8], []byte("ftyp")) {
		if ft, ok := heifBrands[string(buffer[8:12])]; ok {
			return ft, nil
		}
	}
	if bytes.HasPrefix(buffer, []byte("II*\x00")) || bytes.HasPrefix(buffer, []byte("MM\x00*")) {
		return FileTypeTIFF, nil
	}
	if len(buffer) >= 12 && bytes.Equal(buffer[0:4], []byte("RIFF")) && bytes.Equal(buffer[8:12], []byte("WEBP")) {
		return FileTypeWEBP, nil
	}
	return "", ErrInvalidFileType
}

// DetectFile sniffs the type of an image file on disk.
func DetectFile(path string) (FileType, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DetectFileType(f)
}

// IsSupportedSource reports whether the converter can decode the type.
func IsSupportedSource(fileType FileType) bool {
	switch fileType {
	case FileTypeHEIC, FileTypeHEIF, FileTypeJPEG, FileTypePNG, FileTypeTIFF:
		return true
	default:
		return false
	}
}
