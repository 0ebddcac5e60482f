package types

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is the expected update frequency of a ranking source
type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

// ParseCadence accepts the upper or lower case form of a cadence
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown cadence %q", s)
	}
	return c, nil
}

// IsValid checks if the Cadence is one of the known values
func (c Cadence) IsValid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	default:
		return false
	}
}

func (c Cadence) String() string {
	return string(c)
}

// FetchKind selects the fetcher implementation for a source
type FetchKind string

const (
	FetchHTTP    FetchKind = "http"
	FetchBrowser FetchKind = "browser"
	FetchCSV     FetchKind = "csv"
)

// Logical field names with built-in meaning. Every other field is carried
// opaquely in Entry.Attributes.
const (
	FieldRank   = "rank"
	FieldPoints = "points"
)

// DefaultTrackedFields is used when a source does not list its own
var DefaultTrackedFields = []string{FieldPoints}

// FetchSpec describes where and how a source table is retrieved
type FetchSpec struct {
	Kind   FetchKind `yaml:"kind" json:"kind" validate:"required,oneof=http browser csv"`
	URL    string    `yaml:"url" json:"url" validate:"required"`
	Table  string    `yaml:"table,omitempty" json:"table,omitempty"`
	Index  int       `yaml:"index,omitempty" json:"index,omitempty" validate:"gte=0"`
	Iframe string    `yaml:"iframe,omitempty" json:"iframe,omitempty"`
	// Timeout overrides the run-wide fetch timeout when non-zero
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Source is one configured ranking table. Sources are loaded once at
// startup and never mutated afterwards.
type Source struct {
	ID             string            `yaml:"id" json:"id" validate:"required"`
	Name           string            `yaml:"name" json:"name"`
	Cadence        Cadence           `yaml:"cadence" json:"cadence" validate:"required"`
	IdentityFields []string          `yaml:"identity" json:"identity" validate:"required,min=1,dive,required"`
	TrackedFields  []string          `yaml:"tracked,omitempty" json:"tracked,omitempty" validate:"dive,required"`
	Columns        map[string]string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Priority       int               `yaml:"priority" json:"priority"`
	Importance     string            `yaml:"importance,omitempty" json:"importance,omitempty"`
	Fetch          FetchSpec         `yaml:"fetch" json:"fetch"`
}

// Tracked returns the tracked fields, falling back to the defaults
func (s *Source) Tracked() []string {
	if len(s.TrackedFields) == 0 {
		return DefaultTrackedFields
	}
	return s.TrackedFields
}

// HeaderFor returns the raw table header mapped to a logical field. Fields
// without an explicit mapping are looked up under their own name.
func (s *Source) HeaderFor(field string) string {
	if h, ok := s.Columns[field]; ok && strings.TrimSpace(h) != "" {
		return h
	}
	return field
}

// DisplayName returns Name, or ID when no name is configured
func (s *Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// RawTable is the untyped table a fetcher returns
type RawTable struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// IsEmpty reports whether the table has no data rows
func (t *RawTable) IsEmpty() bool {
	return t == nil || len(t.Rows) == 0
}
