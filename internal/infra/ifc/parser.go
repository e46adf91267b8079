// Package ifc reads IFC models in the STEP physical file format (ISO 10303-21).
// Only the header and the entity instances of the element categories the
// ingestion pipeline extracts are interpreted; every other instance is skipped.
package ifc

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
)

const (
	magic     = "ISO-10303-21;"
	endMarker = "END-ISO-10303-21"
)

// IfcElement attribute positions shared by every element subtype.
const (
	attrName = 2
	attrTag  = 7
)

var entityCategories = map[string]bim.Category{
	"IFCWALL":               bim.CategoryWall,
	"IFCWALLSTANDARDCASE":   bim.CategoryWall,
	"IFCWALLELEMENTEDCASE":  bim.CategoryWall,
	"IFCSLAB":               bim.CategorySlab,
	"IFCSLABSTANDARDCASE":   bim.CategorySlab,
	"IFCSLABELEMENTEDCASE":  bim.CategorySlab,
	"IFCBEAM":               bim.CategoryBeam,
	"IFCBEAMSTANDARDCASE":   bim.CategoryBeam,
	"IFCCOLUMN":             bim.CategoryColumn,
	"IFCCOLUMNSTANDARDCASE": bim.CategoryColumn,
	"IFCDOOR":               bim.CategoryDoor,
	"IFCDOORSTANDARDCASE":   bim.CategoryDoor,
	"IFCWINDOW":             bim.CategoryWindow,
	"IFCWINDOWSTANDARDCASE": bim.CategoryWindow,
	"IFCSTAIR":              bim.CategoryStair,
	"IFCROOF":               bim.CategoryRoof,
}

// Parser implements bim.Parser.
type Parser struct{}

// Model is an opened IFC file.
type Model struct {
	schema     string
	byCategory map[bim.Category][]bim.RawElement
}

func (m *Model) Schema() string { return m.schema }

// ElementsByCategory returns the category's instances in file order.
func (m *Model) ElementsByCategory(c bim.Category) []bim.RawElement {
	return m.byCategory[c]
}

// Open reads and parses the file at path.
func (Parser) Open(path string) (bim.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bim.ErrParse, err)
	}
	return Parse(data)
}

// Parse parses an in-memory STEP file.
func Parse(data []byte) (*Model, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(magic)) {
		return nil, fmt.Errorf("%w: unable to parse IFC SPF header", bim.ErrUnrecognizedFormat)
	}

	stmts, err := splitStatements(data)
	if err != nil {
		return nil, err
	}

	m := &Model{byCategory: make(map[bim.Category][]bim.RawElement)}
	const (
		stateStart = iota
		stateHeader
		stateBetween
		stateData
		stateEnd
	)
	state := stateStart
	for _, st := range stmts {
		switch state {
		case stateStart:
			if st != strings.TrimSuffix(magic, ";") {
				return nil, fmt.Errorf("%w: unexpected %q before HEADER", bim.ErrParse, clip(st))
			}
			state = stateBetween
		case stateBetween:
			switch st {
			case "HEADER":
				state = stateHeader
			case "DATA":
				state = stateData
			case endMarker:
				state = stateEnd
			default:
				return nil, fmt.Errorf("%w: unexpected %q outside a section", bim.ErrParse, clip(st))
			}
		case stateHeader:
			if st == "ENDSEC" {
				state = stateBetween
				continue
			}
			if strings.HasPrefix(strings.ToUpper(st), "FILE_SCHEMA") {
				m.schema = parseSchema(st)
			}
		case stateData:
			if st == "ENDSEC" {
				state = stateBetween
				continue
			}
			e, err := parseInstance(st)
			if err != nil {
				return nil, err
			}
			if cat, ok := entityCategories[e.typ]; ok {
				m.byCategory[cat] = append(m.byCategory[cat], e)
			}
		case stateEnd:
			return nil, fmt.Errorf("%w: content after %s", bim.ErrParse, endMarker)
		}
	}
	if state != stateEnd {
		return nil, fmt.Errorf("%w: unexpected end of file", bim.ErrParse)
	}
	if m.schema == "" {
		return nil, fmt.Errorf("%w: FILE_SCHEMA missing from header", bim.ErrParse)
	}
	return m, nil
}

// splitStatements cuts the file at ';' outside strings, dropping comments.
func splitStatements(data []byte) ([]string, error) {
	var (
		out      []string
		cur      strings.Builder
		inString bool
	)
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case inString:
			cur.WriteByte(c)
			if c == '\'' {
				if i+1 < len(data) && data[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
					continue
				}
				inString = false
			}
		case c == '\'':
			inString = true
			cur.WriteByte(c)
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			end := bytes.Index(data[i+2:], []byte("*/"))
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated comment", bim.ErrParse)
			}
			i += end + 3
		case c == ';':
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inString {
		return nil, fmt.Errorf("%w: unterminated string", bim.ErrParse)
	}
	if strings.TrimSpace(cur.String()) != "" {
		return nil, fmt.Errorf("%w: unexpected end of file inside %q", bim.ErrParse, clip(cur.String()))
	}
	return out, nil
}

// parseSchema reads FILE_SCHEMA(('IFC4')).
func parseSchema(st string) string {
	open := strings.IndexByte(st, '\'')
	if open < 0 {
		return ""
	}
	end := strings.IndexByte(st[open+1:], '\'')
	if end < 0 {
		return ""
	}
	return strings.ToUpper(st[open+1 : open+1+end])
}

func parseInstance(st string) (*element, error) {
	if !strings.HasPrefix(st, "#") {
		return nil, fmt.Errorf("%w: instance must start with '#': %q", bim.ErrParse, clip(st))
	}
	eq := strings.IndexByte(st, '=')
	if eq < 0 {
		return nil, fmt.Errorf("%w: instance without '=': %q", bim.ErrParse, clip(st))
	}
	id := strings.TrimSpace(st[1:eq])
	if id == "" || strings.Trim(id, "0123456789") != "" {
		return nil, fmt.Errorf("%w: invalid instance id %q", bim.ErrParse, id)
	}
	body := strings.TrimSpace(st[eq+1:])
	if strings.HasPrefix(body, "(") {
		// complex instance: (IFCA(...)IFCB(...)); no extracted category uses it
		if !strings.HasSuffix(body, ")") {
			return nil, fmt.Errorf("%w: malformed complex instance #%s", bim.ErrParse, id)
		}
		return &element{id: id, args: body[1 : len(body)-1]}, nil
	}
	open := strings.IndexByte(body, '(')
	if open <= 0 || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: malformed instance #%s", bim.ErrParse, id)
	}
	return &element{
		id:   id,
		typ:  strings.ToUpper(strings.TrimSpace(body[:open])),
		args: body[open+1 : len(body)-1],
	}, nil
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
