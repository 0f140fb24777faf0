// Package respath parses and evaluates response paths such as
// "choices[0].message.content" against decoded JSON documents.
//
// Grammar:
//
//	path    = step { "." step }
//	step    = key { index } | index { index }
//	key     = 1*( any byte except "." "[" "]" )
//	index   = "[" ( digits | quoted ) "]"
//	quoted  = `"` JSON string body `"`
//
// A quoted index selects a mapping key, which allows keys containing dots.
package respath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zombor/regionlens/internal/failure"
)

// Segment is one step of a parsed path: either a mapping key or a sequence index
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// Path is a parsed response path
type Path []Segment

// String renders the path back to its canonical text form
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		switch {
		case seg.IsIndex:
			b.WriteString(seg.String())
		case strings.ContainsAny(seg.Key, `.[]"`):
			quoted, _ := json.Marshal(seg.Key)
			b.WriteByte('[')
			b.Write(quoted)
			b.WriteByte(']')
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

type parser struct {
	src string
	pos int
}

// Parse converts a path string into typed segments
func Parse(src string) (Path, error) {
	if strings.TrimSpace(src) == "" {
		return nil, failure.New(failure.ConfigInvalid, "response path is empty")
	}
	p := &parser{src: src}
	path, err := p.parsePath()
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "response path %q: %v", src, err)
	}
	return path, nil
}

// MustParse is Parse for paths known at compile time
func MustParse(src string) Path {
	path, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return path
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) parsePath() (Path, error) {
	var path Path
	for {
		step, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		path = append(path, step...)
		if p.eof() {
			return path, nil
		}
		if p.peek() != '.' {
			return nil, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
		}
		p.pos++
		if p.eof() {
			return nil, fmt.Errorf("trailing '.'")
		}
	}
}

func (p *parser) parseStep() (Path, error) {
	var step Path
	if !p.eof() && p.peek() != '[' {
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		step = append(step, Segment{Key: key})
	}
	for !p.eof() && p.peek() == '[' {
		seg, err := p.parseIndex()
		if err != nil {
			return nil, err
		}
		step = append(step, seg)
	}
	if len(step) == 0 {
		return nil, fmt.Errorf("empty segment at offset %d", p.pos)
	}
	return step, nil
}

func (p *parser) parseKey() (string, error) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '.' || c == '[' {
			break
		}
		if c == ']' {
			return "", fmt.Errorf("unbalanced ']' at offset %d", p.pos)
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty key at offset %d", start)
	}
	return p.src[start:p.pos], nil
}

func (p *parser) parseIndex() (Segment, error) {
	open := p.pos
	p.pos++ // '['
	if p.eof() {
		return Segment{}, fmt.Errorf("unterminated '[' at offset %d", open)
	}

	if p.peek() == '"' {
		key, err := p.parseQuoted()
		if err != nil {
			return Segment{}, err
		}
		if err := p.expect(']'); err != nil {
			return Segment{}, err
		}
		return Segment{Key: key}, nil
	}

	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if p.pos == start {
		return Segment{}, fmt.Errorf("expected index at offset %d", start)
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return Segment{}, fmt.Errorf("index %q: %w", p.src[start:p.pos], err)
	}
	if err := p.expect(']'); err != nil {
		return Segment{}, err
	}
	return Segment{Index: n, IsIndex: true}, nil
}

func (p *parser) parseQuoted() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	for !p.eof() {
		switch p.peek() {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			var key string
			if err := json.Unmarshal([]byte(p.src[start:p.pos]), &key); err != nil {
				return "", fmt.Errorf("quoted key at offset %d: %w", start, err)
			}
			return key, nil
		}
		p.pos++
	}
	return "", fmt.Errorf("unterminated string at offset %d", start)
}

func (p *parser) expect(c byte) error {
	if p.eof() || p.peek() != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

// Decode parses a JSON document keeping numbers exact
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Eval walks doc one segment at a time. A missing or null value at any step
// aborts the walk with a PathNotFound error.
func (p Path) Eval(doc any) (any, error) {
	cur := doc
	for i, seg := range p {
		if seg.IsIndex {
			arr, ok := cur.([]any)
			if !ok {
				return nil, notFound(p, i, "not a sequence")
			}
			if seg.Index >= len(arr) {
				return nil, notFound(p, i, fmt.Sprintf("index out of range (len %d)", len(arr)))
			}
			cur = arr[seg.Index]
		} else {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, notFound(p, i, "not a mapping")
			}
			cur = obj[seg.Key]
		}
		if cur == nil {
			return nil, notFound(p, i, "missing or null")
		}
	}
	return cur, nil
}

func notFound(p Path, i int, why string) error {
	return failure.New(failure.PathNotFound, "%s at %s", why, p[:i+1].String())
}

// Stringify renders a resolved value as text. Strings are returned as-is,
// scalars in their JSON form, and containers as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

// Lookup decodes data and resolves the path, returning the stringified value
func (p Path) Lookup(data []byte) (string, error) {
	doc, err := Decode(data)
	if err != nil {
		return "", failure.New(failure.ServiceError, "decoding response: %v", err)
	}
	v, err := p.Eval(doc)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}
