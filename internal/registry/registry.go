// Package registry loads the configured ranking sources and their update
// policy.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/pkg/types"
)

//go:embed default_sources.yaml
var defaultSources []byte

// DefaultCorrectionLookback is the window after a change during which a
// source keeps being checked for corrections.
const DefaultCorrectionLookback = 30 * 24 * time.Hour

// CadenceInterval returns the minimum time between checks for a cadence
func CadenceInterval(c types.Cadence) time.Duration {
	switch c {
	case types.CadenceDaily:
		return 24 * time.Hour
	case types.CadenceWeekly:
		return 7 * 24 * time.Hour
	case types.CadenceMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

type fileFormat struct {
	CorrectionLookback time.Duration  `yaml:"correction_lookback"`
	Sources            []types.Source `yaml:"sources"`
}

// Registry is the immutable set of sources for a process
type Registry struct {
	sources  []types.Source
	byID     map[string]int
	lookback time.Duration
}

var validate = validator.New()

// source ids name files and lock files, so they stay filename-safe
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Load reads a registry file. An empty path loads the embedded defaults.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultSources)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rwerrors.Configuration("cannot read sources file %s", path).Wrap(err)
	}
	return Parse(data)
}

// Default returns the embedded registry
func Default() (*Registry, error) {
	return Parse(defaultSources)
}

// Parse decodes and validates registry YAML
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, rwerrors.Configuration("invalid sources file").Wrap(err)
	}
	r, err := New(f.Sources...)
	if err != nil {
		return nil, err
	}
	if f.CorrectionLookback > 0 {
		r.lookback = f.CorrectionLookback
	}
	return r, nil
}

// New validates sources and builds a registry from them
func New(sources ...types.Source) (*Registry, error) {
	if len(sources) == 0 {
		return nil, rwerrors.Configuration("no sources configured")
	}

	r := &Registry{
		byID:     make(map[string]int, len(sources)),
		lookback: DefaultCorrectionLookback,
	}

	for _, s := range sources {
		cadence, err := types.ParseCadence(string(s.Cadence))
		if err != nil {
			return nil, rwerrors.Configuration("source %q: %v", s.ID, err)
		}
		s.Cadence = cadence
		if s.Fetch.Kind == "" {
			s.Fetch.Kind = types.FetchHTTP
		}

		if err := validate.Struct(&s); err != nil {
			return nil, rwerrors.Configuration("source %q is invalid", s.ID).Wrap(err)
		}
		if err := checkFields(&s); err != nil {
			return nil, err
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, rwerrors.Configuration("duplicate source id %q", s.ID)
		}

		r.byID[s.ID] = len(r.sources)
		r.sources = append(r.sources, s)
	}

	sort.SliceStable(r.sources, func(i, j int) bool {
		if r.sources[i].Priority != r.sources[j].Priority {
			return r.sources[i].Priority < r.sources[j].Priority
		}
		return r.sources[i].ID < r.sources[j].ID
	})
	for i, s := range r.sources {
		r.byID[s.ID] = i
	}

	return r, nil
}

func checkFields(s *types.Source) error {
	if !sourceIDPattern.MatchString(s.ID) {
		return rwerrors.Configuration("source id %q may only contain letters, digits, '-' and '_'", s.ID)
	}
	seen := make(map[string]bool)
	for _, f := range s.IdentityFields {
		if strings.TrimSpace(f) == "" {
			return rwerrors.Configuration("source %q: empty identity field", s.ID)
		}
		if f == types.FieldRank || f == types.FieldPoints {
			return rwerrors.Configuration("source %q: %q cannot be an identity field", s.ID, f)
		}
		if seen[f] {
			return rwerrors.Configuration("source %q: identity field %q listed twice", s.ID, f)
		}
		seen[f] = true
	}
	for _, f := range s.TrackedFields {
		if seen[f] {
			return rwerrors.Configuration("source %q: identity field %q cannot be tracked", s.ID, f)
		}
	}
	return nil
}

// Sources returns all sources in dispatch order: priority, then id
func (r *Registry) Sources() []types.Source {
	out := make([]types.Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Get returns a source by id
func (r *Registry) Get(id string) (types.Source, bool) {
	i, ok := r.byID[id]
	if !ok {
		return types.Source{}, false
	}
	return r.sources[i], true
}

// IDs returns the source ids in dispatch order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID
	}
	return ids
}

// Filter restricts the registry to the given ids, keeping dispatch order.
// An empty list selects every source. Unknown ids are a configuration error.
func (r *Registry) Filter(ids []string) ([]types.Source, error) {
	if len(ids) == 0 {
		return r.Sources(), nil
	}

	want := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		want[id] = true
	}
	if len(unknown) > 0 {
		return nil, rwerrors.Configuration("unknown source id(s): %s", strings.Join(unknown, ", "))
	}

	var out []types.Source
	for _, s := range r.sources {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// CorrectionLookback returns the registry-wide correction window
func (r *Registry) CorrectionLookback() time.Duration {
	return r.lookback
}

// Len returns the number of sources
func (r *Registry) Len() int {
	return len(r.sources)
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d sources)", len(r.sources))
}
