// Package detector decides when a page needs a headless browser pass because
// its static HTML carries no useful content.
package detector

import (
	"bytes"
	"strings"
)

const defaultBodyThreshold = 2048

// Markers left in static HTML by client-side rendering frameworks.
var frameworkMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Heuristic promotes pages to headless rendering based on body size, script
// density and known framework markers.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic returns a detector. A zero threshold picks the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// NeedsRender reports whether the static HTML should go through a browser:
// empty bodies always do, short script-heavy bodies do, and so does anything
// carrying a client-side framework marker.
func (h *Heuristic) NeedsRender(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range frameworkMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script tags cover at least a quarter of the
// document. Unterminated tags count through to the end of the body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

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

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1

		relClose := strings.Index(lower[contentStart:], closeTag)
		var next int
		if relClose == -1 {
			next = total
		} else {
			next = contentStart + relClose + len(closeTag)
		}

		covered += next - start
		pos = next
	}

	if covered == 0 {
		return false
	}
	return covered*100/total >= 25
}
