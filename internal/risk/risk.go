// Package risk classifies shell commands into risk tiers using a compiled
// pattern ruleset. Classification is deterministic and side-effect free, so
// hook callers can depend on it while a command is still blocked.
package risk

import "github.com/groblegark/pairlock/internal/model"

// Action is the verdict for a classified command.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Result is the outcome of classifying a single command.
type Result struct {
	Action       Action
	Tier         model.RiskTier
	MinApprovals int
	// RuleMatched names the rule that set the tier, "parse-error" when the
	// tier comes from a tokenization failure alone, or "" when allowed.
	RuleMatched string
	// ParseError is true when the command could not be fully tokenized.
	// The tier is upgraded one step in that case.
	ParseError bool
}

// Classifier evaluates commands against a ruleset. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	rules *Ruleset
}

// NewClassifier returns a classifier over the built-in ruleset.
func NewClassifier() *Classifier {
	return &Classifier{rules: DefaultRuleset()}
}

// NewClassifierWithRules returns a classifier over a custom ruleset.
func NewClassifierWithRules(rs *Ruleset) *Classifier {
	return &Classifier{rules: rs}
}

// Rules returns the classifier's ruleset.
func (c *Classifier) Rules() *Ruleset {
	return c.rules
}

// Check classifies a command. Compound commands take the tier of their
// riskiest segment. Relative paths are resolved against cwd before the
// path-sensitive rules run, and a tokenization failure upgrades the tier
// one step rather than letting an unparseable command through.
func (c *Classifier) Check(command, cwd string) Result {
	n := Normalize(command)

	tier := model.TierSafe
	matched := ""

	for _, seg := range n.Segments {
		candidates := []string{seg}
		if resolved := resolvePaths(seg, cwd); resolved != seg {
			candidates = append(candidates, resolved)
		}
		for _, cand := range candidates {
			r := c.rules.match(cand)
			if r == nil {
				continue
			}
			if tierRank(r.Tier) > tierRank(tier) {
				tier = r.Tier
				matched = r.Name
			}
		}
	}

	if n.ParseError {
		if upgraded := upgradeTier(tier); upgraded != tier {
			tier = upgraded
			if matched == "" {
				matched = "parse-error"
			}
		}
	}

	res := Result{
		Tier:        tier,
		RuleMatched: matched,
		ParseError:  n.ParseError,
	}
	if tier == model.TierSafe {
		res.Action = ActionAllow
	} else {
		res.Action = ActionBlock
		res.MinApprovals = tier.MinApprovals()
	}
	return res
}

func upgradeTier(t model.RiskTier) model.RiskTier {
	switch t {
	case model.TierSafe:
		return model.TierDangerous
	case model.TierDangerous:
		return model.TierCritical
	default:
		return t
	}
}
