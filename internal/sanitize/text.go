// Package sanitize turns raw event descriptions into plain, PII-free text.
//
// Pipeline order used by Body:
//  1. entity decoding (to a fixed point)
//  2. HTML to text, block elements become line breaks
//  3. Unicode NFKC and removal of format characters
//  4. meeting-join boilerplate removal, one line of context either side
//  5. redaction of URLs, mailto links, emails, phone-shaped runs, long ids
//  6. whitespace collapse, line structure preserved
//  7. a second boilerplate pass for lines that redaction turned into a match
//  8. truncation at a word boundary
package sanitize

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxEntityPasses bounds repeated decoding of double-escaped input.
const maxEntityPasses = 4

var (
	tagRe    = regexp.MustCompile(`</?[A-Za-z][^<>]*>`)
	entityRe = regexp.MustCompile(`&(#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
)

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cf)), // ZWJ ZWNJ FEFF soft hyphen etc
		)
	},
}

// DecodeEntities unescapes HTML character references until the text stops
// changing, so double-escaped feeds come out clean.
func DecodeEntities(s string) string {
	for i := 0; i < maxEntityPasses && entityRe.MatchString(s); i++ {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// LooksLikeHTML reports whether s contains something tag-shaped.
func LooksLikeHTML(s string) bool {
	return tagRe.MatchString(s)
}

// blockTags end a line of text when they open or close.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "ul": true, "ol": true,
	"tr": true, "table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "blockquote": true, "pre": true, "hr": true,
}

// StripHTML converts markup to plain text. Non-HTML input is returned with
// entities decoded. Any tag-shaped text surviving the tokenizer (escaped
// markup) is dropped as well, so the output never looks like HTML.
func StripHTML(s string) string {
	if !LooksLikeHTML(s) {
		s = DecodeEntities(s)
		if !LooksLikeHTML(s) {
			return s
		}
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tagRe.ReplaceAllString(DecodeEntities(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				switch {
				case tt == html.StartTagToken:
					skip++
				case tt == html.EndTagToken && skip > 0:
					skip--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// NormalizeUnicode applies NFKC and removes invisible format characters.
func NormalizeUnicode(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		return s
	}
	return out
}

var (
	mailtoRe = regexp.MustCompile(`(?i)mailto:\S+`)
	urlRe    = regexp.MustCompile(`(?i)(?:https?|ftp)://\S+|www\.\S+`)
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	phoneRe  = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`)
	longIDRe = regexp.MustCompile(`\d{6,}`)
	isoDate  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// minPhoneDigits is the digit count below which a run is not phone-shaped.
const minPhoneDigits = 7

// maxRedactPasses bounds Redact's search for a fixed point.
const maxRedactPasses = 4

// Redact replaces URLs, mailto links, email addresses, phone-shaped digit
// runs and numeric ids of six or more digits with a single space. It repeats
// until nothing matches, so Redact(Redact(s)) == Redact(s).
func Redact(s string) string {
	for i := 0; i < maxRedactPasses; i++ {
		next := redactOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func redactOnce(s string) string {
	s = mailtoRe.ReplaceAllString(s, " ")
	s = urlRe.ReplaceAllString(s, " ")
	s = emailRe.ReplaceAllString(s, " ")
	s = phoneRe.ReplaceAllStringFunc(s, func(m string) string {
		// keep calendar dates and short numbers readable
		if isoDate.MatchString(strings.TrimLeft(m, "+( ")) || countDigits(m) < minPhoneDigits {
			return m
		}
		// a run may span a line break; keep the break
		if strings.Contains(m, "\n") {
			return "\n"
		}
		return " "
	})
	s = longIDRe.ReplaceAllString(s, " ")
	return s
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// CollapseWhitespace squeezes horizontal whitespace to single spaces and
// runs of blank lines to one line break, trimming every line.
func CollapseWhitespace(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Inline scrubs a short single-line value such as a participant name.
func Inline(s string) string {
	s = NormalizeUnicode(StripHTML(s))
	s = Redact(s)
	return strings.Join(strings.Fields(s), " ")
}
