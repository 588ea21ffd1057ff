// Package langdetect classifies reply text into an ISO 639-1 language code.
package langdetect

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Detector is a stateless trigram classifier.
type Detector struct {
	fallback string
}

// New returns a detector that answers fallback when text cannot be classified.
func New(fallback string) *Detector {
	return &Detector{fallback: fallback}
}

func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return d.fallback
	}
	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return d.fallback
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return d.fallback
	}
	return code
}
