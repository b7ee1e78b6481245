package policy

import (
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// AgePolicy allows datasets not updated for more than MaxAgeDays.
// Datasets that were never updated always match.
type AgePolicy struct {
	MaxAgeDays int
}

func NewAgePolicy(maxAgeDays int) *AgePolicy {
	return &AgePolicy{MaxAgeDays: maxAgeDays}
}

func (p *AgePolicy) Evaluate(rec core.DatasetRecord, env core.EnvSnapshot) core.Decision {
	ageDays := core.AgeDays(env.Now, rec.LastUpdated)

	score := ageDays
	if score < 0 {
		score = 0
	}
	if score > core.NeverUpdatedAgeDays {
		score = core.NeverUpdatedAgeDays
	}

	if rec.LastUpdated == nil {
		return core.Decision{Allow: true, Reason: "never_updated", Score: core.NeverUpdatedAgeDays}
	}
	if ageDays > p.MaxAgeDays {
		return core.Decision{Allow: true, Reason: "stale", Score: score}
	}
	return core.Decision{Allow: false, Reason: "too_recent", Score: 0}
}
