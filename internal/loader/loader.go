// Package loader reads source documents into plain text for ingestion.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnparsable marks a document that cannot become text. It is a
// permanent property of the file, so jobs failing with it never retry.
var ErrUnparsable = errors.New("document is not parsable")

// Loader turns a file on disk into plain text.
type Loader interface {
	Load(path string) (string, error)
}

// ForPath picks a loader by file extension. Unknown extensions fall
// through to the plain text loader, which rejects binary content.
func ForPath(path string) Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return markdownLoader{}
	default:
		return textLoader{}
	}
}

// Load reads path with the loader matching its extension.
func Load(path string) (string, error) {
	return ForPath(path).Load(path)
}

type textLoader struct{}

func (textLoader) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if looksBinary(data) {
		return "", fmt.Errorf("%s: %w", path, ErrUnparsable)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%s is empty: %w", path, ErrUnparsable)
	}
	return text, nil
}

// looksBinary checks the leading bytes for NULs or invalid UTF-8.
func looksBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	// A multi-byte rune split at the probe boundary is not binary.
	for i := 0; i < 3 && len(probe) > 0 && !utf8.Valid(probe); i++ {
		probe = probe[:len(probe)-1]
	}
	return !utf8.Valid(probe)
}
