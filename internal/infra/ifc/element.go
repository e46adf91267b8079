package ifc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
)

// element is one entity instance; attributes are decoded on demand.
type element struct {
	id   string
	typ  string
	args string

	attrs []string
	err   error
	split bool
}

func (e *element) ID() string { return e.id }

func (e *element) Name() (string, error) { return e.stringAttr(attrName) }

func (e *element) Tag() (string, error) { return e.stringAttr(attrTag) }

func (e *element) stringAttr(idx int) (string, error) {
	if !e.split {
		e.attrs, e.err = splitArgs(e.args)
		e.split = true
	}
	if e.err != nil {
		return "", fmt.Errorf("#%s %s: %w", e.id, e.typ, e.err)
	}
	if idx >= len(e.attrs) {
		return "", nil
	}
	s, err := decodeString(e.attrs[idx])
	if err != nil {
		return "", fmt.Errorf("#%s %s attribute %d: %w", e.id, e.typ, idx, err)
	}
	return s, nil
}

// splitArgs splits a parameter list at top-level commas.
func splitArgs(args string) ([]string, error) {
	var (
		out      []string
		depth    int
		inString bool
		start    int
	)
	for i := 0; i < len(args); i++ {
		c := args[i]
		if inString {
			if c == '\'' {
				if i+1 < len(args) && args[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parentheses", bim.ErrParse)
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(args[start:i]))
				start = i + 1
			}
		}
	}
	if inString || depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parameter list", bim.ErrParse)
	}
	return append(out, strings.TrimSpace(args[start:])), nil
}

// decodeString turns a STEP string literal into text. '$' (unset) and '*'
// (derived) decode to the empty string.
func decodeString(v string) (string, error) {
	if v == "$" || v == "*" || v == "" {
		return "", nil
	}
	if len(v) < 2 || v[0] != '\'' || v[len(v)-1] != '\'' {
		return "", fmt.Errorf("%w: expected string, got %q", bim.ErrParse, clip(v))
	}
	s := strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	return decodeEscapes(s)
}

// decodeEscapes expands the ISO 10303-21 control directives: \\, \S\c and
// \X\hh (ISO 8859-1), \X2\...\X0\ (UTF-16) and \X4\...\X0\ (UTF-32).
// Code page switches (\PA\ ...) are dropped; the upper half is read as Latin-1.
func decodeEscapes(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, `\\`):
			b.WriteByte('\\')
			i += 2
		case strings.HasPrefix(rest, `\S\`):
			if len(rest) < 4 {
				return "", fmt.Errorf("%w: truncated \\S\\ escape", bim.ErrParse)
			}
			b.WriteRune(rune(rest[3]) + 0x80)
			i += 4
		case strings.HasPrefix(rest, `\X\`):
			if len(rest) < 5 {
				return "", fmt.Errorf("%w: truncated \\X\\ escape", bim.ErrParse)
			}
			raw, err := hex.DecodeString(rest[3:5])
			if err != nil {
				return "", fmt.Errorf("%w: malformed \\X\\ escape: %v", bim.ErrParse, err)
			}
			b.WriteRune(rune(raw[0]))
			i += 5
		case strings.HasPrefix(rest, `\X2\`), strings.HasPrefix(rest, `\X4\`):
			n, err := decodeWide(&b, rest)
			if err != nil {
				return "", err
			}
			i += n
		case len(rest) >= 4 && rest[1] == 'P' && rest[3] == '\\':
			i += 4
		default:
			b.WriteByte('\\')
			i++
		}
	}
	return b.String(), nil
}

// decodeWide writes one \X2\ or \X4\ run and returns how many bytes it used.
func decodeWide(b *strings.Builder, s string) (int, error) {
	const closing = `\X0\`
	width := 4
	if s[2] == '4' {
		width = 8
	}
	body := s[4:]
	j := strings.Index(body, closing)
	if j < 0 || j%width != 0 {
		return 0, fmt.Errorf("%w: malformed \\X%c\\ escape", bim.ErrParse, s[2])
	}
	raw, err := hex.DecodeString(body[:j])
	if err != nil {
		return 0, fmt.Errorf("%w: malformed \\X%c\\ escape: %v", bim.ErrParse, s[2], err)
	}
	if width == 8 {
		for k := 0; k+3 < len(raw); k += 4 {
			b.WriteRune(rune(binary.BigEndian.Uint32(raw[k:])))
		}
	} else {
		units := make([]uint16, 0, len(raw)/2)
		for k := 0; k+1 < len(raw); k += 2 {
			units = append(units, binary.BigEndian.Uint16(raw[k:]))
		}
		b.WriteString(string(utf16.Decode(units)))
	}
	return 4 + j + len(closing), nil
}
