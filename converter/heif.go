package converter

import (
	"image"
	"os"

	"github.com/adrium/goheif"
)

func openHEIF(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return goheif.Decode(f)
}
