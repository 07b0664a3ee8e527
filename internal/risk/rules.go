package risk

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"

	"github.com/groblegark/pairlock/internal/model"
)

// ruleSpec is the source form of a classification rule. Patterns match
// against normalized command segments, both before and after path
// resolution, so rules over absolute paths catch relative spellings too.
type ruleSpec struct {
	Tier    model.RiskTier
	Name    string
	Pattern string
}

// defaultRules is the built-in ruleset. Critical rules describe operations
// whose blast radius reaches outside the project or destroys shared history.
// Dangerous rules describe project-scoped destruction that is recoverable
// with effort.
var defaultRules = []ruleSpec{
	// Critical.
	{model.TierCritical, "rm-system-path", `^rm\s+(?:-\S+\s+)*(?:/(?:bin|boot|dev|etc|home|lib|lib64|opt|root|sbin|srv|sys|usr|var)\b\S*|/)\s*(?:\s|$)`},
	{model.TierCritical, "rm-recursive-home", `^rm\s+-\S*r\S*\s+(?:-\S+\s+)*~/?\s*$`},
	{model.TierCritical, "git-force-push", `^git\s+push\b.*\s(?:--force(?:-with-lease)?|-f)\b`},
	{model.TierCritical, "git-history-rewrite", `^git\s+(?:filter-branch|filter-repo)\b`},
	{model.TierCritical, "git-reflog-expire", `^git\s+reflog\s+expire\b`},
	{model.TierCritical, "disk-overwrite", `^dd\b.*\bof=/dev/\S+`},
	{model.TierCritical, "mkfs", `^mkfs(?:\.\S+)?\b`},
	{model.TierCritical, "sql-drop-database", `(?i)\bdrop\s+(?:database|schema)\b`},
	{model.TierCritical, "chmod-recursive-root", `^chmod\s+-\S*R\S*\s+\S+\s+/\s*$`},

	// Dangerous.
	{model.TierDangerous, "rm-recursive", `^rm\s+-\S*r\S*\b`},
	{model.TierDangerous, "rm-force", `^rm\s+-\S*f\S*\b`},
	{model.TierDangerous, "git-reset-hard", `^git\s+reset\s+--hard\b`},
	{model.TierDangerous, "git-clean-force", `^git\s+clean\s+-\S*f`},
	{model.TierDangerous, "git-branch-force-delete", `^git\s+branch\s+(?:-D|-d\s+--force|--delete\s+--force)\b`},
	{model.TierDangerous, "git-checkout-discard", `^git\s+checkout\s+(?:--\s+)?\.\s*$`},
	{model.TierDangerous, "chmod-recursive", `^chmod\s+-\S*R\S*\b`},
	{model.TierDangerous, "chown-recursive", `^chown\s+-\S*R\S*\b`},
	{model.TierDangerous, "truncate-zero", `^truncate\s+(?:-s\s*0|--size[= ]0)\b`},
	{model.TierDangerous, "sql-drop-table", `(?i)\b(?:drop|truncate)\s+table\b`},
	{model.TierDangerous, "docker-prune", `^docker\s+(?:system|volume|image|container)\s+prune\b`},
	{model.TierDangerous, "find-delete", `^find\b.*\s-delete\b`},
}

// Rule is a compiled classification rule.
type Rule struct {
	Tier model.RiskTier
	Name string
	re   *regexp.Regexp
}

// Match reports whether the rule matches the given segment.
func (r *Rule) Match(seg string) bool {
	return r.re.MatchString(seg)
}

// Ruleset is an immutable set of compiled rules. Build one with
// CompileRules at startup; it is safe for concurrent use.
type Ruleset struct {
	rules []Rule
	hash  string
}

// CompileRules compiles a ruleset from rule specs.
func CompileRules(specs []ruleSpec) (*Ruleset, error) {
	rs := &Ruleset{rules: make([]Rule, 0, len(specs))}
	for _, spec := range specs {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", spec.Name, err)
		}
		rs.rules = append(rs.rules, Rule{Tier: spec.Tier, Name: spec.Name, re: re})
	}
	rs.hash = hashSpecs(specs)
	return rs, nil
}

// DefaultRuleset returns the built-in compiled ruleset.
func DefaultRuleset() *Ruleset {
	return defaultRuleset
}

var defaultRuleset = func() *Ruleset {
	rs, err := CompileRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return rs
}()

// Count returns the number of rules in the set.
func (rs *Ruleset) Count() int {
	return len(rs.rules)
}

// Hash returns a short content hash of the ruleset, used by health checks
// to detect which rules a running daemon is enforcing.
func (rs *Ruleset) Hash() string {
	return rs.hash
}

// match returns the highest-tier rule matching the segment, or nil.
func (rs *Ruleset) match(seg string) *Rule {
	var best *Rule
	for i := range rs.rules {
		r := &rs.rules[i]
		if !r.Match(seg) {
			continue
		}
		if best == nil || tierRank(r.Tier) > tierRank(best.Tier) {
			best = r
		}
	}
	return best
}

func tierRank(t model.RiskTier) int {
	switch t {
	case model.TierCritical:
		return 2
	case model.TierDangerous:
		return 1
	default:
		return 0
	}
}

func hashSpecs(specs []ruleSpec) string {
	lines := make([]string, 0, len(specs))
	for _, s := range specs {
		lines = append(lines, fmt.Sprintf("%s:%s:%s", s.Tier, s.Name, s.Pattern))
	}
	sort.Strings(lines)

	h := fnv.New64a()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
