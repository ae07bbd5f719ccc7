package collyfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const smallPageBytes = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// looksClientRendered reports whether an HTML body is probably an empty shell
// filled in by JavaScript, which readability cannot extract.
func looksClientRendered(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if len(body) < smallPageBytes && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}

// clientRendered marks an extraction failure as a JavaScript shell. The result
// always matches ingest.ErrNoContent.
func clientRendered(err error) error {
	if errors.Is(err, ingest.ErrNoContent) {
		return fmt.Errorf("%w: page appears to be rendered client-side", err)
	}
	return fmt.Errorf("%w: page appears to be rendered client-side: %w", ingest.ErrNoContent, err)
}
