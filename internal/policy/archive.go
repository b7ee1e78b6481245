package policy

import (
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// NewArchivePolicy builds the archive candidate rule:
// stale OR (large AND sparse).
func NewArchivePolicy(th core.Thresholds) core.Policy {
	return NewCompositePolicy(ModeOr,
		NewAgePolicy(th.AgeDays),
		NewCompositePolicy(ModeAnd,
			NewSizePolicy(th.SizeMB),
			NewSparsePolicy(th.MinRows),
		),
	)
}
