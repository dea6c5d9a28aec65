// Package visibility renders per-viewer views of world text.
//
// Two inline markup conventions are honored: target(name, ...)[payload]
// restricts the payload to the listed viewers, and hide[payload] marks a
// secret that no viewer sees until the engine removes the wrapper in a later
// delta. Malformed markup is passed through as literal text rather than
// dropped.
package visibility

import "strings"

const (
	targetPrefix = "target("
	hidePrefix   = "hide["

	// RedactedName stands in for a file display name the viewer may not see.
	RedactedName = "???"
)

// Render produces the view of text for the named viewer. Target spans the
// viewer is listed in are unwrapped to their payload; spans for other viewers
// are elided entirely. Hidden spans are always stripped.
func Render(text, viewer string) string {
	return render(text, func(names []string) bool { return containsName(names, viewer) }, false)
}

// RenderPrivileged produces the debug view: every target span is unwrapped
// regardless of viewer. Hidden spans stay stripped; secrecy of the hide
// layer holds even for privileged viewers.
func RenderPrivileged(text string) string {
	return render(text, func([]string) bool { return true }, false)
}

// Inspect is the explicit low-level bypass: target spans are unwrapped and
// hide payloads are revealed. Only raw content inspection should use it.
func Inspect(text string) string {
	return render(text, func([]string) bool { return true }, true)
}

// ContainsHidden reports whether the text still carries an unrevealed hidden
// span, so callers can flag content without exposing the payload.
func ContainsHidden(text string) bool {
	rest := text
	for {
		i := strings.Index(rest, hidePrefix)
		if i < 0 {
			return false
		}
		if _, _, ok := matchBracket(rest[i+len(hidePrefix):]); ok {
			return true
		}
		rest = rest[i+len(hidePrefix):]
	}
}

// FileName resolves a file's display name for the viewer. A name wrapped in a
// target span resolves to the inner name for listed viewers and to
// RedactedName otherwise.
func FileName(name, viewer string) string {
	return fileName(name, func(names []string) bool { return containsName(names, viewer) })
}

// FileNamePrivileged resolves a file's display name in debug mode.
func FileNamePrivileged(name string) string {
	return fileName(name, func([]string) bool { return true })
}

func fileName(name string, authorized func([]string) bool) string {
	rendered := render(name, authorized, false)
	if strings.TrimSpace(rendered) == "" {
		return RedactedName
	}
	return rendered
}

func render(text string, authorized func(names []string) bool, revealHidden bool) string {
	var out strings.Builder
	rest := text
	for len(rest) > 0 {
		ti := strings.Index(rest, targetPrefix)
		hi := strings.Index(rest, hidePrefix)
		if ti < 0 && hi < 0 {
			out.WriteString(rest)
			break
		}

		// Handle whichever span opens first.
		if ti >= 0 && (hi < 0 || ti <= hi) {
			names, payload, remainder, ok := matchTarget(rest[ti:])
			if !ok {
				out.WriteString(rest[:ti+len(targetPrefix)])
				rest = rest[ti+len(targetPrefix):]
				continue
			}
			out.WriteString(rest[:ti])
			if authorized(names) {
				out.WriteString(render(payload, authorized, revealHidden))
			}
			rest = remainder
			continue
		}

		payload, remainder, ok := matchBracket(rest[hi+len(hidePrefix):])
		if !ok {
			out.WriteString(rest[:hi+len(hidePrefix)])
			rest = rest[hi+len(hidePrefix):]
			continue
		}
		out.WriteString(rest[:hi])
		if revealHidden {
			out.WriteString(render(payload, authorized, revealHidden))
		}
		rest = remainder
	}
	return out.String()
}

// matchTarget parses "target(a, b)[payload]..." and returns the listed names,
// the payload, and the remainder after the span.
func matchTarget(s string) (names []string, payload, remainder string, ok bool) {
	inner := s[len(targetPrefix):]
	close := strings.Index(inner, ")")
	if close < 0 {
		return nil, "", "", false
	}
	list := inner[:close]
	after := inner[close+1:]
	if !strings.HasPrefix(after, "[") {
		return nil, "", "", false
	}
	payload, remainder, ok = matchBracket(after[1:])
	if !ok {
		return nil, "", "", false
	}
	for _, name := range strings.Split(list, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names, payload, remainder, true
}

// matchBracket consumes up to the bracket closing an already-opened span,
// tolerating nested brackets inside the payload.
func matchBracket(s string) (payload, remainder string, ok bool) {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}

func containsName(names []string, viewer string) bool {
	for _, name := range names {
		if name == viewer {
			return true
		}
	}
	return false
}
