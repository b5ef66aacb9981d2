package validation

import "errors"

var ErrInvalidFileType = errors.New("unrecognized or unsupported file type")
