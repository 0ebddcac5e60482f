package types

import (
	"errors"
	"strings"
)

// Entry is one normalized row of a ranking table
type Entry struct {
	Key        string            `json:"key"`
	Rank       int               `json:"rank"`
	Points     float64           `json:"points"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks if the Entry has all required fields and valid values
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return errors.New("entry key is required")
	}
	if e.Rank <= 0 {
		return errors.New("entry rank must be positive")
	}
	return nil
}

// Attr returns a logical field value. rank and points are served from the
// typed fields so callers can treat every tracked field uniformly.
func (e *Entry) Attr(field string) string {
	switch field {
	case FieldRank:
		return FormatRank(e.Rank)
	case FieldPoints:
		return FormatPoints(e.Points)
	}
	return e.Attributes[field]
}
