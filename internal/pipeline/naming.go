package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/imagekit/internal/domain"
)

// ContentHash returns the first 16 hex chars of the xxhash64 of data.
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// OutputName builds "<base>_<suffix>.<ext>" from the original file name.
func OutputName(original, suffix string, format domain.OutputFormat) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	base = sanitizePathToken(base)
	if suffix = sanitizePathToken(suffix); suffix != "unknown" {
		base += "_" + suffix
	}
	return base + "." + format.Extension()
}

// HashedOutputName adds a content hash so re-running a job never overwrites a different output.
func HashedOutputName(original string, kind domain.Operation, result domain.TransformResult) string {
	return OutputName(original, string(kind)+"_"+ContentHash(result.Data)[:8], result.Format)
}

// UniqueNames dedupes names in order, appending -2, -3... before the extension.
func UniqueNames(names []string) []string {
	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		candidate := name
		ext := filepath.Ext(name)
		for n := 2; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
