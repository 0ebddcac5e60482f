// Package scheduler decides whether a source is due for a check.
package scheduler

import (
	"time"

	"github.com/yairfalse/rankwatch/internal/registry"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Reason explains a scheduling decision
type Reason string

const (
	ReasonNeverChecked       Reason = "never_checked"
	ReasonCadenceDue         Reason = "cadence_due"
	ReasonCorrectionLookback Reason = "correction_lookback"
	ReasonFresh              Reason = "fresh"
	ReasonForced             Reason = "forced"
)

// Decision is the outcome of ShouldCheck
type Decision struct {
	Check  bool
	Reason Reason
}

// Policy holds the run-wide scheduling knobs
type Policy struct {
	Lookback time.Duration
	Force    bool
}

// NewPolicy returns a policy with the default correction lookback
func NewPolicy() Policy {
	return Policy{Lookback: registry.DefaultCorrectionLookback}
}

// ShouldCheck applies the rules in order: never checked, cadence elapsed,
// recent change within the correction lookback, otherwise fresh.
func (p Policy) ShouldCheck(src *types.Source, meta *types.SourceMetadata, now time.Time) Decision {
	if p.Force {
		return Decision{Check: true, Reason: ReasonForced}
	}
	if meta == nil {
		return Decision{Check: true, Reason: ReasonNeverChecked}
	}

	if now.Sub(meta.LastCheckAt) >= registry.CadenceInterval(src.Cadence) {
		return Decision{Check: true, Reason: ReasonCadenceDue}
	}

	if meta.LastChangeAt != nil && now.Sub(*meta.LastChangeAt) <= p.Lookback {
		return Decision{Check: true, Reason: ReasonCorrectionLookback}
	}

	return Decision{Check: false, Reason: ReasonFresh}
}

// ShouldCheck applies the default policy with the given lookback
func ShouldCheck(src *types.Source, meta *types.SourceMetadata, now time.Time, lookback time.Duration) Decision {
	return Policy{Lookback: lookback}.ShouldCheck(src, meta, now)
}
