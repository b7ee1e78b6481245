package policy

import (
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// SizePolicy allows datasets strictly larger than MinSizeMB.
type SizePolicy struct {
	MinSizeMB float64
}

func NewSizePolicy(minSizeMB float64) *SizePolicy {
	return &SizePolicy{MinSizeMB: minSizeMB}
}

func (p *SizePolicy) Evaluate(rec core.DatasetRecord, _ core.EnvSnapshot) core.Decision {
	if rec.SizeMB > p.MinSizeMB {
		// Score is whole MB, capped at 100000
		score := int(rec.SizeMB)
		if score > core.MaxSizeMB {
			score = core.MaxSizeMB
		}
		return core.Decision{Allow: true, Reason: "large", Score: score}
	}
	return core.Decision{Allow: false, Reason: "too_small", Score: 0}
}
