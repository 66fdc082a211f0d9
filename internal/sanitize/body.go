package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

// Ellipsis marks a clipped preview.
const Ellipsis = "…"

// meetingRe matches conferencing boilerplate. No pattern ends in a word
// boundary, so a truncated prefix of a clean line stays clean.
var meetingRe = regexp.MustCompile(`(?i)` +
	`join\b.{0,60}meeting` +
	`|meeting\s*(?:id|password|number|link)` +
	`|pass\s*code` +
	`|dial[\s-]+in` +
	`|conference\s*id` +
	`|access\s*code` +
	`|one\s+tap\s+mobile` +
	`|join\s+by\s+(?:phone|video)` +
	`|find\s+(?:a|your)\s+local\s+number`)

// Body sanitizes a raw (possibly HTML) description for storage and caps it
// at maxLen runes. maxLen <= 0 disables the cap. Body(Body(x)) == Body(x).
func Body(raw string, maxLen int) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	s := StripHTML(raw)
	s = NormalizeUnicode(s)
	s = DropMeetingBlocks(s)
	s = Redact(s)
	s = CollapseWhitespace(s)
	// redaction can glue a keyword together ("pass123456code")
	s = DropMeetingBlocks(s)
	return Truncate(s, maxLen)
}

// DropMeetingBlocks removes every line matching a join-meeting keyword plus
// the nearest non-blank line on each side.
func DropMeetingBlocks(s string) string {
	lines := strings.Split(s, "\n")
	drop := make([]bool, len(lines))
	hit := false
	for i, line := range lines {
		if !meetingRe.MatchString(line) {
			continue
		}
		hit = true
		drop[i] = true
		for j := i - 1; j >= 0; j-- {
			if strings.TrimSpace(lines[j]) != "" {
				drop[j] = true
				break
			}
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) != "" {
				drop[j] = true
				break
			}
		}
	}
	if !hit {
		return s
	}

	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if !drop[i] {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Truncate cuts s to at most maxLen runes, backing up to the last
// whitespace when one exists in the second half of the cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := r[:maxLen]
	if !unicode.IsSpace(r[maxLen]) {
		for i := len(cut) - 1; i > maxLen/2; i-- {
			if unicode.IsSpace(cut[i]) {
				cut = cut[:i]
				break
			}
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace)
}

// Preview flattens a sanitized body to one line of at most n runes,
// appending an ellipsis when clipped.
func Preview(body string, n int) string {
	flat := strings.Join(strings.Fields(body), " ")
	if n <= 0 || len([]rune(flat)) <= n {
		return flat
	}
	budget := n - len([]rune(Ellipsis))
	if budget <= 0 {
		return Ellipsis
	}
	return Truncate(flat, budget) + Ellipsis
}
