// Package numbering parses document numbering templates such as
// "INV-{YYYY}-{SEQ:5}" and renders previews of the numbers they produce.
package numbering

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyTemplate   = errors.New("template is empty")
	ErrUnknownToken    = errors.New("unknown template token")
	ErrUnbalanced      = errors.New("unbalanced braces in template")
	ErrMissingSequence = errors.New("template must contain exactly one {SEQ} token")
	ErrInvalidPadding  = errors.New("sequence padding must be between 1 and 12")
	ErrInvalidSequence = errors.New("sequence must be positive")
)

const maxPadding = 12

type partKind int

const (
	partLiteral partKind = iota
	partYear4
	partYear2
	partMonth
	partDay
	partSequence
)

type part struct {
	kind    partKind
	literal string
	width   int
}

type Template struct {
	raw   string
	parts []part
}

func (t Template) String() string { return t.raw }

func Parse(raw string) (Template, error) {
	if strings.TrimSpace(raw) == "" {
		return Template{}, ErrEmptyTemplate
	}

	var parts []part
	var literal strings.Builder
	sequences := 0

	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '}':
			return Template{}, fmt.Errorf("%w at offset %d", ErrUnbalanced, i)
		case '{':
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return Template{}, fmt.Errorf("%w at offset %d", ErrUnbalanced, i)
			}
			token := raw[i+1 : i+end]
			p, err := parseToken(token)
			if err != nil {
				return Template{}, err
			}
			if literal.Len() > 0 {
				parts = append(parts, part{kind: partLiteral, literal: literal.String()})
				literal.Reset()
			}
			if p.kind == partSequence {
				sequences++
			}
			parts = append(parts, p)
			i += end
		default:
			literal.WriteByte(raw[i])
		}
	}
	if literal.Len() > 0 {
		parts = append(parts, part{kind: partLiteral, literal: literal.String()})
	}
	if sequences != 1 {
		return Template{}, ErrMissingSequence
	}

	return Template{raw: raw, parts: parts}, nil
}

func parseToken(token string) (part, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(token), ":")
	switch strings.ToUpper(name) {
	case "YYYY":
		return part{kind: partYear4}, nil
	case "YY":
		return part{kind: partYear2}, nil
	case "MM":
		return part{kind: partMonth}, nil
	case "DD":
		return part{kind: partDay}, nil
	case "SEQ":
		width := 1
		if hasArg {
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || n < 1 || n > maxPadding {
				return part{}, fmt.Errorf("%w: %q", ErrInvalidPadding, arg)
			}
			width = n
		}
		return part{kind: partSequence, width: width}, nil
	default:
		return part{}, fmt.Errorf("%w: {%s}", ErrUnknownToken, token)
	}
}

func (t Template) Render(seq int64, at time.Time) string {
	var b strings.Builder
	for _, p := range t.parts {
		switch p.kind {
		case partLiteral:
			b.WriteString(p.literal)
		case partYear4:
			fmt.Fprintf(&b, "%04d", at.Year())
		case partYear2:
			fmt.Fprintf(&b, "%02d", at.Year()%100)
		case partMonth:
			fmt.Fprintf(&b, "%02d", int(at.Month()))
		case partDay:
			fmt.Fprintf(&b, "%02d", at.Day())
		case partSequence:
			fmt.Fprintf(&b, "%0*d", p.width, seq)
		}
	}
	return b.String()
}

// Preview renders the next count numbers starting at nextSeq.
func Preview(raw string, nextSeq int64, at time.Time, count int) ([]string, error) {
	tmpl, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if nextSeq < 1 {
		return nil, ErrInvalidSequence
	}
	if count < 1 {
		count = 1
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, tmpl.Render(nextSeq+int64(i), at))
	}
	return out, nil
}
