package expressions

import (
	"strconv"
	"strings"

	"github.com/rendis/stepwise/pkg/schema"
)

// Ref is a parsed template expression: a dotted path with an optional
// default literal used when the path resolves to nothing.
type Ref struct {
	Path    []string
	Default *Literal
}

// Literal is a constant operand.
type Literal struct {
	Value any
}

// Template is a string split into literal text and {{ }} references.
type Template struct {
	Source string
	Parts  []Part
}

// Part is either literal text or a reference. Raw holds the original
// "{{...}}" text of a reference.
type Part struct {
	Text string
	Ref  *Ref
	Raw  string
}

// IsFullMatch reports whether the whole source is a single reference.
func (t *Template) IsFullMatch() bool {
	return len(t.Parts) == 1 && t.Parts[0].Ref != nil
}

// HasRefs reports whether the template contains any reference.
func (t *Template) HasRefs() bool {
	for _, p := range t.Parts {
		if p.Ref != nil {
			return true
		}
	}
	return false
}

// Operator is a comparison operator of the condition grammar.
type Operator string

const (
	OpNone      Operator = ""
	OpGreater   Operator = ">"
	OpLess      Operator = "<"
	OpStrictEq  Operator = "==="
	OpEq        Operator = "=="
	OpStrictNeq Operator = "!=="
	OpNeq       Operator = "!="
)

// operators in match order; longer spellings first so "!==" never
// lexes as "!=" followed by "=".
var operators = []Operator{OpStrictEq, OpStrictNeq, OpEq, OpNeq, OpGreater, OpLess}

// Operand is one side of a condition: a template or a literal.
type Operand struct {
	Template *Template
	Literal  *Literal
}

// Condition is a single comparison, or a bare operand tested for
// truthiness when Op is OpNone.
type Condition struct {
	Source string
	Left   Operand
	Op     Operator
	Right  Operand
}

// ParseTemplate splits s into text and references. Text outside {{ }}
// is kept verbatim.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{Source: s}
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			t.Parts = append(t.Parts, Part{Text: s[i:]})
			break
		}
		if idx > 0 {
			t.Parts = append(t.Parts, Part{Text: s[i : i+idx]})
		}
		start := i + idx + 2
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "unclosed {{ in %q", s)
		}
		end += start
		ref, err := ParseRef(s[start:end])
		if err != nil {
			return nil, err
		}
		t.Parts = append(t.Parts, Part{Ref: ref, Raw: s[i+idx : end+2]})
		i = end + 2
	}
	return t, nil
}

// ParseRef parses the inside of a {{ }} block:
//
//	expr    := path ('||' literal)?
//	path    := segment ('.' segment)*
//	literal := quoted-string | number | bare-word
func ParseRef(expr string) (*Ref, error) {
	p := &refParser{src: expr}
	return p.parse()
}

type refParser struct {
	src string
	pos int
}

func (p *refParser) parse() (*Ref, error) {
	p.skipSpace()
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	ref := &Ref{Path: path}

	p.skipSpace()
	if p.pos >= len(p.src) {
		return ref, nil
	}
	if !strings.HasPrefix(p.src[p.pos:], "||") {
		return nil, p.errorf("unexpected %q after path", p.src[p.pos:])
	}
	p.pos += 2
	lit, err := p.parseDefault()
	if err != nil {
		return nil, err
	}
	ref.Default = lit
	return ref, nil
}

func (p *refParser) parsePath() ([]string, error) {
	var path []string
	for {
		start := p.pos
		for p.pos < len(p.src) && isSegmentChar(p.src[p.pos]) {
			p.pos++
		}
		if p.pos == start {
			return nil, p.errorf("expected path segment")
		}
		path = append(path, p.src[start:p.pos])
		if p.pos < len(p.src) && p.src[p.pos] == '.' {
			p.pos++
			continue
		}
		return path, nil
	}
}

func (p *refParser) parseDefault() (*Literal, error) {
	raw := strings.TrimSpace(p.src[p.pos:])
	p.pos = len(p.src)
	if raw == "" {
		return nil, p.errorf("missing default after ||")
	}
	return parseLiteral(raw), nil
}

func (p *refParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *refParser) errorf(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeInterpolation, format, args...).
		WithDetails(map[string]any{"expression": p.src, "position": p.pos})
}

// parseLiteral classifies raw literal text. Quoted text is a string with
// the quotes stripped, a bare number is a float64, true/false are bools,
// and anything else is a bare string.
func parseLiteral(raw string) *Literal {
	if unq, ok := unquote(raw); ok {
		return &Literal{Value: unq}
	}
	if isNumeric(raw) {
		f, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return &Literal{Value: f}
		}
	}
	switch raw {
	case "true":
		return &Literal{Value: true}
	case "false":
		return &Literal{Value: false}
	case "null", "undefined":
		return &Literal{Value: nil}
	}
	return &Literal{Value: raw}
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func isNumeric(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '-' || s[i] == '+') {
			i++
		}
		exp := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

func isSegmentChar(c byte) bool {
	return c == '_' || c == '-' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// --- condition grammar ---

type tokenKind int

const (
	tokText tokenKind = iota
	tokTemplate
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	op   Operator
}

// lexCondition splits a condition into text, {{ }} blocks, quoted strings
// and operators. Operators inside {{ }} or quotes are not recognised.
func lexCondition(src string) ([]token, error) {
	var toks []token
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			toks = append(toks, token{kind: tokText, text: text.String()})
			text.Reset()
		}
	}

	i := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "{{"):
			end := strings.Index(src[i+2:], "}}")
			if end == -1 {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "unclosed {{ in condition %q", src)
			}
			flush()
			stop := i + 2 + end + 2
			toks = append(toks, token{kind: tokTemplate, text: src[i:stop]})
			i = stop
		case src[i] == '\'' || src[i] == '"':
			end := strings.IndexByte(src[i+1:], src[i])
			if end == -1 {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "unterminated string in condition %q", src)
			}
			flush()
			stop := i + 1 + end + 1
			toks = append(toks, token{kind: tokString, text: src[i:stop]})
			i = stop
		default:
			if op, ok := matchOperator(src[i:]); ok {
				flush()
				toks = append(toks, token{kind: tokOp, op: op})
				i += len(op)
				continue
			}
			text.WriteByte(src[i])
			i++
		}
	}
	flush()
	return toks, nil
}

func matchOperator(s string) (Operator, bool) {
	for _, op := range operators {
		if strings.HasPrefix(s, string(op)) {
			return op, true
		}
	}
	return OpNone, false
}

// ParseCondition parses the restricted condition grammar:
//
//	condition := operand (operator operand)?
//	operand   := (template | string | text)+
//
// Only a single comparison is allowed; there is no conjunction,
// disjunction or grouping.
func ParseCondition(src string) (*Condition, error) {
	toks, err := lexCondition(src)
	if err != nil {
		return nil, err
	}
	p := &condParser{src: src, toks: toks}
	return p.parse()
}

type condParser struct {
	src  string
	toks []token
	pos  int
}

func (p *condParser) parse() (*Condition, error) {
	c := &Condition{Source: p.src}
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	c.Left = left
	if p.pos >= len(p.toks) {
		return c, nil
	}

	c.Op = p.toks[p.pos].op
	p.pos++
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	c.Right = right
	if p.pos < len(p.toks) {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"condition %q: only a single comparison is supported", p.src)
	}
	return c, nil
}

func (p *condParser) parseOperand() (Operand, error) {
	start := p.pos
	for p.pos < len(p.toks) && p.toks[p.pos].kind != tokOp {
		p.pos++
	}
	toks := p.toks[start:p.pos]

	// Drop whitespace-only text at the edges.
	for len(toks) > 0 && toks[0].kind == tokText && strings.TrimSpace(toks[0].text) == "" {
		toks = toks[1:]
	}
	for len(toks) > 0 && toks[len(toks)-1].kind == tokText && strings.TrimSpace(toks[len(toks)-1].text) == "" {
		toks = toks[:len(toks)-1]
	}

	if len(toks) == 0 {
		return Operand{}, schema.NewErrorf(schema.ErrCodeInterpolation, "condition %q: missing operand", p.src)
	}
	if len(toks) == 1 {
		switch toks[0].kind {
		case tokString:
			unq, _ := unquote(toks[0].text)
			return Operand{Literal: &Literal{Value: unq}}, nil
		case tokText:
			return Operand{Literal: parseLiteral(strings.TrimSpace(toks[0].text))}, nil
		}
	}

	var raw strings.Builder
	for i, tk := range toks {
		s := tk.text
		if tk.kind == tokText {
			if i == 0 {
				s = strings.TrimLeft(s, " \t\r\n")
			}
			if i == len(toks)-1 {
				s = strings.TrimRight(s, " \t\r\n")
			}
		}
		raw.WriteString(s)
	}
	tmpl, err := ParseTemplate(raw.String())
	if err != nil {
		return Operand{}, err
	}
	return Operand{Template: tmpl}, nil
}
