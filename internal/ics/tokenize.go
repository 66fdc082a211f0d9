package ics

import (
	"bufio"
	"bytes"
	"errors"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "calingest/internal/log"
)

// ErrEmptyFeed is returned by Tokenize for a blank payload.
var ErrEmptyFeed = errors.New("empty ICS body")

// RawProperty is one unfolded content line of a VEVENT.
type RawProperty struct {
	Name   string
	Params map[string]string
	Value  string
}

// Param returns a parameter value by (case-insensitive) name.
func (p RawProperty) Param(name string) string {
	return p.Params[strings.ToUpper(name)]
}

// Block holds the properties of one VEVENT in source order.
type Block struct {
	Properties []RawProperty
}

// Get returns the first property with the given name.
func (b Block) Get(name string) (RawProperty, bool) {
	name = strings.ToUpper(name)
	for _, p := range b.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return RawProperty{}, false
}

// Value returns the value of the first property with the given name, or "".
func (b Block) Value(name string) string {
	p, _ := b.Get(name)
	return p.Value
}

// All returns every property with the given name.
func (b Block) All(name string) []RawProperty {
	name = strings.ToUpper(name)
	var out []RawProperty
	for _, p := range b.Properties {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// TokenizeResult is the outcome of splitting a feed into VEVENT blocks.
type TokenizeResult struct {
	Blocks []Block
	// Skipped counts VEVENTs that could not be read on their own.
	Skipped int
}

// Tokenize splits an ICS payload into per-event property blocks. Line
// unfolding and the property/parameter split are done by golang-ical.
// When the calendar as a whole does not parse, each VEVENT is retried in
// isolation so a single malformed event does not hide the rest.
func Tokenize(body []byte) (TokenizeResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return TokenizeResult{}, ErrEmptyFeed
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err == nil {
		var res TokenizeResult
		for _, ve := range cal.Events() {
			res.Blocks = append(res.Blocks, blockFromProperties(ve.Properties))
		}
		return res, nil
	}

	appLog.Warn("ics calendar parse failed, retrying per event", "error", err.Error())
	chunks := splitEvents(body)
	if len(chunks) == 0 {
		return TokenizeResult{}, err
	}

	var res TokenizeResult
	for _, chunk := range chunks {
		single, perr := ical.ParseCalendar(bytes.NewReader(wrapEvent(chunk)))
		if perr != nil || len(single.Events()) == 0 {
			res.Skipped++
			continue
		}
		for _, ve := range single.Events() {
			res.Blocks = append(res.Blocks, blockFromProperties(ve.Properties))
		}
	}
	return res, nil
}

func blockFromProperties(props []ical.IANAProperty) Block {
	b := Block{Properties: make([]RawProperty, 0, len(props))}
	for _, p := range props {
		name := strings.ToUpper(strings.TrimSpace(p.IANAToken))
		if name == "" {
			continue
		}
		rp := RawProperty{Name: name, Value: p.Value}
		if len(p.ICalParameters) > 0 {
			rp.Params = make(map[string]string, len(p.ICalParameters))
			for k, vs := range p.ICalParameters {
				for i := range vs {
					vs[i] = strings.Trim(vs[i], `"`)
				}
				rp.Params[strings.ToUpper(k)] = strings.Join(vs, ",")
			}
		}
		if textProperties[name] {
			rp.Value = unescapeText(rp.Value)
		}
		b.Properties = append(b.Properties, rp)
	}
	return b
}

var textProperties = map[string]bool{
	"SUMMARY":     true,
	"DESCRIPTION": true,
	"LOCATION":    true,
	"COMMENT":     true,
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// splitEvents cuts the raw payload into BEGIN:VEVENT..END:VEVENT chunks.
// Unterminated events are dropped.
func splitEvents(body []byte) [][]byte {
	var (
		chunks [][]byte
		cur    bytes.Buffer
		depth  int
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		upper := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case upper == "BEGIN:VEVENT":
			cur.Reset()
			depth = 1
		case depth > 0 && strings.HasPrefix(upper, "BEGIN:"):
			depth++
		case depth > 0 && upper == "END:VEVENT" && depth == 1:
			cur.WriteString(line)
			cur.WriteString("\r\n")
			chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
			cur.Reset()
			depth = 0
			continue
		case depth > 1 && strings.HasPrefix(upper, "END:"):
			depth--
		}
		if depth > 0 {
			cur.WriteString(line)
			cur.WriteString("\r\n")
		}
	}
	return chunks
}

func wrapEvent(chunk []byte) []byte {
	var b bytes.Buffer
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calingest//EN\r\n")
	b.Write(chunk)
	b.WriteString("END:VCALENDAR\r\n")
	return b.Bytes()
}
