package domain

import "errors"

var (
	ErrInvalidFormat   = errors.New("unsupported image format")
	ErrFileTooLarge    = errors.New("file too large")
	ErrDecode          = errors.New("decode failed")
	ErrEncoding        = errors.New("encoding failed")
	ErrResourceLoad    = errors.New("resource load failed")
	ErrCropOutOfBounds = errors.New("crop rectangle out of bounds")
	ErrInvalidOptions  = errors.New("invalid transform options")
	ErrOutputTooLarge  = errors.New("output dimensions too large")
)
