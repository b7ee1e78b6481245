package policy

import (
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// SparsePolicy allows datasets holding fewer than MaxRows records.
type SparsePolicy struct {
	MaxRows int64
}

func NewSparsePolicy(maxRows int64) *SparsePolicy {
	return &SparsePolicy{MaxRows: maxRows}
}

func (p *SparsePolicy) Evaluate(rec core.DatasetRecord, _ core.EnvSnapshot) core.Decision {
	if rec.RecordCount < p.MaxRows {
		return core.Decision{Allow: true, Reason: "sparse", Score: 1}
	}
	return core.Decision{Allow: false, Reason: "dense", Score: 0}
}
