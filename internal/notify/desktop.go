package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DesktopNotifier raises a notification on the reviewer's desktop.
type DesktopNotifier interface {
	Notify(ctx context.Context, title, message string) error
}

// DesktopNotifierFunc adapts a function to the DesktopNotifier interface.
type DesktopNotifierFunc func(ctx context.Context, title, message string) error

// Notify calls f.
func (f DesktopNotifierFunc) Notify(ctx context.Context, title, message string) error {
	return f(ctx, title, message)
}

// OsascriptNotifier shows macOS notifications via osascript.
type OsascriptNotifier struct{}

// Notify runs `osascript -e 'display notification ...'`. Title and message
// are escaped before interpolation into the AppleScript source; commands
// under review are attacker-adjacent input and must not be able to break
// out of the string literal.
func (OsascriptNotifier) Notify(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`,
		escapeAppleScript(message), escapeAppleScript(title))
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// escapeAppleScript neutralizes the characters that would terminate or
// mangle an AppleScript string literal: backslash, double quote, and both
// newline flavors.
func escapeAppleScript(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\r', '\n':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
