package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
	MimeBMP  = "image/bmp"

	DefaultMaxFileBytes  = 10 << 20
	DefaultMaxBatchItems = 100
	DefaultQuality       = 80
)

var supportedMimeTypes = map[string]bool{
	MimeJPEG: true,
	MimePNG:  true,
	MimeWebP: true,
	MimeBMP:  true,
}

// SourceImage is the user's original file. It is never mutated after ingestion.
type SourceImage struct {
	Name     string
	MimeType string
	Data     []byte
}

func (s SourceImage) Size() int {
	return len(s.Data)
}

type Limits struct {
	MaxFileBytes  int64
	MaxBatchItems int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:  DefaultMaxFileBytes,
		MaxBatchItems: DefaultMaxBatchItems,
	}
}

// ValidateSource rejects files outside the supported MIME set or above the byte ceiling.
func ValidateSource(src SourceImage, limits Limits) error {
	mime := NormalizeMimeType(src.MimeType)
	if !supportedMimeTypes[mime] {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, src.MimeType)
	}
	if limits.MaxFileBytes > 0 && int64(src.Size()) > limits.MaxFileBytes {
		return fmt.Errorf(
			"%w: %s exceeds the %s limit",
			ErrFileTooLarge,
			humanize.IBytes(uint64(src.Size())),
			humanize.IBytes(uint64(limits.MaxFileBytes)),
		)
	}
	return nil
}

func NormalizeMimeType(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "image/x-ms-bmp", "image/x-bmp":
		return MimeBMP
	default:
		return mime
	}
}

func IsSupportedMimeType(mime string) bool {
	return supportedMimeTypes[NormalizeMimeType(mime)]
}

// TransformResult is created fresh per transform call and never mutated after return,
// except by Release which drops the output buffer.
type TransformResult struct {
	Data             []byte
	Size             int
	Width            int
	Height           int
	Format           OutputFormat
	MimeType         string
	CompressionRatio float64
	Passes           int
	Tier             string
}

// Release drops this result's reference to the output buffer. The bytes are left intact
// for snapshots that still hold them and are collected once the last holder lets go.
func (r *TransformResult) Release() {
	if r == nil {
		return
	}
	r.Data = nil
}

func CompressionRatio(originalSize, outputSize int) float64 {
	if originalSize <= 0 {
		return 0
	}
	return float64(originalSize-outputSize) / float64(originalSize) * 100
}

type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusError      ItemStatus = "error"
)

type BatchItem struct {
	ID        string
	Source    SourceImage
	Status    ItemStatus
	Result    *TransformResult
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
