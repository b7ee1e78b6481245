package policy

import (
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// CompositeMode determines how multiple policies are combined.
type CompositeMode string

const (
	// ModeAnd requires all policies to allow (logical AND).
	ModeAnd CompositeMode = "and"
	// ModeOr requires at least one policy to allow (logical OR).
	ModeOr CompositeMode = "or"
)

// CompositePolicy combines multiple policies with AND or OR logic.
type CompositePolicy struct {
	Policies []core.Policy
	Mode     CompositeMode
}

// NewCompositePolicy creates a policy that combines multiple policies.
// Mode "and" requires all to allow; mode "or" requires at least one to allow.
func NewCompositePolicy(mode CompositeMode, policies ...core.Policy) *CompositePolicy {
	return &CompositePolicy{
		Policies: policies,
		Mode:     mode,
	}
}

func (p *CompositePolicy) Evaluate(rec core.DatasetRecord, env core.EnvSnapshot) core.Decision {
	if len(p.Policies) == 0 {
		return core.Decision{Allow: false, Reason: "no_policies", Score: 0}
	}

	switch p.Mode {
	case ModeAnd:
		return p.evaluateAnd(rec, env)
	case ModeOr:
		return p.evaluateOr(rec, env)
	default:
		return core.Decision{Allow: false, Reason: "invalid_mode", Score: 0}
	}
}

// evaluateAnd returns allow only if ALL policies allow.
// Returns the minimum score and first deny reason encountered.
func (p *CompositePolicy) evaluateAnd(rec core.DatasetRecord, env core.EnvSnapshot) core.Decision {
	minScore := int(^uint(0) >> 1) // Max int

	for _, pol := range p.Policies {
		dec := pol.Evaluate(rec, env)
		if !dec.Allow {
			return core.Decision{
				Allow:  false,
				Reason: "and_deny:" + dec.Reason,
				Score:  0,
			}
		}
		if dec.Score < minScore {
			minScore = dec.Score
		}
	}

	return core.Decision{
		Allow:  true,
		Reason: "and_allow",
		Score:  minScore,
	}
}

// evaluateOr returns allow if ANY policy allows.
// Returns the maximum score among allowing policies; the first allowing
// policy wins score ties.
func (p *CompositePolicy) evaluateOr(rec core.DatasetRecord, env core.EnvSnapshot) core.Decision {
	var (
		allowed     bool
		maxScore    int
		allowReason string
		denyReason  string
	)

	for _, pol := range p.Policies {
		dec := pol.Evaluate(rec, env)
		if dec.Allow {
			if !allowed || dec.Score > maxScore {
				maxScore = dec.Score
				allowReason = dec.Reason
			}
			allowed = true
		} else if denyReason == "" {
			denyReason = dec.Reason
		}
	}

	if allowed {
		return core.Decision{
			Allow:  true,
			Reason: "or_allow:" + allowReason,
			Score:  maxScore,
		}
	}

	return core.Decision{
		Allow:  false,
		Reason: "or_deny:" + denyReason,
		Score:  0,
	}
}
