package risk

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Normalized is a command parsed into matchable segments.
type Normalized struct {
	Original string
	// Segments are the individual simple commands after compound splitting,
	// pipe splitting, and wrapper stripping.
	Segments []string
	// ParseError is set when shell tokenization failed. Callers treat this
	// as a reason to classify more strictly, not less.
	ParseError bool
}

// Wrapper prefixes that do not change what a command does.
var wrapperPrefixes = map[string]bool{
	"sudo":    true,
	"doas":    true,
	"command": true,
	"builtin": true,
	"time":    true,
	"nice":    true,
	"ionice":  true,
	"nohup":   true,
	"strace":  true,
	"ltrace":  true,
}

// shellCPattern extracts the inner command from `sh -c '...'` invocations.
var shellCPattern = regexp.MustCompile(`^(?:bash|sh|zsh|ksh|dash)\s+-c\s+['"](.+)['"]\s*$`)

var envAssignPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// Normalize splits a command into simple segments for rule matching.
// Compound separators (;, &&, ||, &) and pipes are split shell-aware, so
// separators inside quotes do not split. Wrapper prefixes such as sudo or
// nohup are stripped from each segment.
func Normalize(cmd string) *Normalized {
	n := &Normalized{Original: cmd}

	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return n
	}

	for _, seg := range splitCompound(cmd) {
		for _, part := range splitPipes(seg) {
			stripped, parseErr := stripWrappers(part)
			if parseErr {
				n.ParseError = true
			}
			if stripped != "" {
				n.Segments = append(n.Segments, stripped)
			}
		}
	}

	return n
}

// splitCompound splits on ;, &&, || and & outside of quotes.
func splitCompound(cmd string) []string {
	var segments []string
	var current strings.Builder
	inSingle, inDouble, escaped := false, false, false
	runes := []rune(cmd)

	flush := func() {
		if seg := strings.TrimSpace(current.String()); seg != "" {
			segments = append(segments, seg)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' && !inSingle {
			current.WriteRune(r)
			escaped = true
			continue
		}
		if r == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteRune(r)
			continue
		}
		if r == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteRune(r)
			continue
		}

		if !inSingle && !inDouble {
			if i+1 < len(runes) && ((r == '&' && runes[i+1] == '&') || (r == '|' && runes[i+1] == '|')) {
				flush()
				i++
				continue
			}
			if r == ';' || r == '&' {
				flush()
				continue
			}
		}

		current.WriteRune(r)
	}
	flush()

	return segments
}

// splitPipes splits a segment on unquoted single pipes.
func splitPipes(seg string) []string {
	var parts []string
	var current strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if p := strings.TrimSpace(current.String()); p != "" {
			parts = append(parts, p)
		}
		current.Reset()
	}

	for _, r := range seg {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == '|' && !inSingle && !inDouble:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()

	return parts
}

// stripWrappers removes wrapper prefixes (sudo, env VAR=x, nohup, ...) and
// unwraps `sh -c '...'`. Returns the stripped segment and whether shell
// tokenization failed.
func stripWrappers(seg string) (string, bool) {
	if match := shellCPattern.FindStringSubmatch(seg); match != nil {
		return stripWrappers(match[1])
	}

	parser := shellwords.NewParser()
	tokens, err := parser.Parse(seg)
	parseErr := err != nil
	if parseErr {
		// Fall back to whitespace splitting rather than losing the segment.
		tokens = strings.Fields(seg)
	}

	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		if tok == "env" {
			i++
			for i < len(tokens) && envAssignPattern.MatchString(tokens[i]) {
				i++
			}
			continue
		}
		if wrapperPrefixes[tok] {
			i++
			continue
		}
		break
	}

	if i >= len(tokens) {
		return "", parseErr
	}
	return strings.TrimSpace(strings.Join(tokens[i:], " ")), parseErr
}

// resolvePaths expands ~ and resolves relative path arguments against cwd so
// that rules over absolute paths see what the command would actually touch.
// Plain words (command names, flags) pass through untouched.
func resolvePaths(seg, cwd string) string {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	tokens, err := parser.Parse(seg)
	if err != nil {
		tokens = strings.Fields(seg)
	}

	home, _ := os.UserHomeDir()

	for i, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			if idx := strings.Index(tok, "="); idx != -1 {
				tokens[i] = tok[:idx+1] + resolvePathToken(tok[idx+1:], cwd, home)
			}
			continue
		}
		tokens[i] = resolvePathToken(tok, cwd, home)
	}

	return strings.Join(tokens, " ")
}

func resolvePathToken(tok, cwd, home string) string {
	if home != "" {
		if tok == "~" {
			tok = home
		} else if strings.HasPrefix(tok, "~/") {
			tok = filepath.Join(home, tok[2:])
		}
	}
	if filepath.IsAbs(tok) {
		return filepath.Clean(tok)
	}
	if strings.Contains(tok, "/") || tok == "." || tok == ".." {
		if cwd != "" {
			return filepath.Clean(filepath.Join(cwd, tok))
		}
		return filepath.Clean(tok)
	}
	return tok
}
