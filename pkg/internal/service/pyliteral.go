package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParsePyLiteral 解析旧版 calmgr 客户端提交的 Python 字面量 (dict、list、tuple、set、
// 字符串、数字、True/False/None、datetime.datetime(...)) 为 JSON 兼容的值.
// 日期时间转换为 RFC 3339 字符串. 集合只接受 set([...]) 调用形式.
func ParsePyLiteral(src string) (any, error) {
	p := &pyParser{src: []rune(src)}

	v, err := p.value()
	if err != nil {
		return nil, err
	}

	p.skipSpace()

	if p.pos != len(p.src) {
		return nil, p.errorf("trailing characters")
	}

	return v, nil
}

type pyParser struct {
	src []rune
	pos int
}

func (p *pyParser) errorf(format string, args ...any) error {
	return fmt.Errorf("python literal at %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *pyParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *pyParser) peek() rune {
	p.skipSpace()

	if p.pos >= len(p.src) {
		return 0
	}

	return p.src[p.pos]
}

func (p *pyParser) expect(r rune) error {
	if p.peek() != r {
		return p.errorf("expected %q", r)
	}

	p.pos++

	return nil
}

func (p *pyParser) value() (any, error) {
	switch r := p.peek(); {
	case r == 0:
		return nil, p.errorf("unexpected end of input")
	case r == '{':
		return p.dict()
	case r == '[':
		return p.sequence('[', ']')
	case r == '(':
		return p.sequence('(', ')')
	case r == '\'' || r == '"':
		return p.str()
	case r == '-' || r == '+' || r == '.' || unicode.IsDigit(r):
		return p.number()
	case unicode.IsLetter(r) || r == '_':
		return p.name()
	default:
		return nil, p.errorf("unexpected %q", r)
	}
}

func (p *pyParser) dict() (any, error) {
	p.pos++

	out := make(map[string]any)

	for {
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}

		k, err := p.value()
		if err != nil {
			return nil, err
		}

		if err := p.expect(':'); err != nil {
			return nil, err
		}

		v, err := p.value()
		if err != nil {
			return nil, err
		}

		out[fmt.Sprint(k)] = v

		if p.peek() == ',' {
			p.pos++
		}
	}
}

func (p *pyParser) sequence(open, closing rune) ([]any, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}

	out := []any{}

	for {
		if p.peek() == closing {
			p.pos++
			return out, nil
		}

		v, err := p.value()
		if err != nil {
			return nil, err
		}

		out = append(out, v)

		if p.peek() == ',' {
			p.pos++
		}
	}
}

func (p *pyParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++

	var b strings.Builder

	for p.pos < len(p.src) {
		r := p.src[p.pos]
		p.pos++

		switch r {
		case quote:
			return b.String(), nil
		case '\\':
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated escape")
			}

			e := p.src[p.pos]
			p.pos++

			switch e {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(e)
			}
		default:
			b.WriteRune(r)
		}
	}

	return nil, p.errorf("unterminated string")
}

func (p *pyParser) number() (any, error) {
	start := p.pos

	for p.pos < len(p.src) && strings.ContainsRune("+-.0123456789eE", p.src[p.pos]) {
		p.pos++
	}

	text := string(p.src[start:p.pos])
	// Python 2 的长整数后缀
	if p.pos < len(p.src) && (p.src[p.pos] == 'L' || p.src[p.pos] == 'l') {
		p.pos++
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("bad number %q", text)
	}

	return f, nil
}

func (p *pyParser) ident() string {
	start := p.pos

	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			break
		}

		p.pos++
	}

	return string(p.src[start:p.pos])
}

func (p *pyParser) name() (any, error) {
	id := p.ident()

	// u'...' 与 b'...' 前缀
	if (id == "u" || id == "b") && p.pos < len(p.src) && (p.src[p.pos] == '\'' || p.src[p.pos] == '"') {
		return p.str()
	}

	switch id {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}

	if p.peek() != '(' {
		return nil, p.errorf("unknown name %q", id)
	}

	args, err := p.sequence('(', ')')
	if err != nil {
		return nil, err
	}

	switch id {
	case "datetime.datetime", "datetime":
		return pyDatetime(args)
	case "datetime.date", "date":
		return pyDate(args)
	case "set", "frozenset", "list", "tuple":
		if len(args) == 0 {
			return []any{}, nil
		}

		return args[0], nil
	}

	return nil, p.errorf("unsupported call %s()", id)
}

func intArgs(args []any) ([]int, bool) {
	out := make([]int, 0, len(args))

	for _, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, false
		}

		out = append(out, int(n))
	}

	return out, true
}

func pyDatetime(args []any) (any, error) {
	n, ok := intArgs(args)
	if !ok || len(n) < 3 || len(n) > 7 {
		return nil, fmt.Errorf("python literal: bad datetime arguments %v", args)
	}

	parts := make([]int, 7)
	copy(parts, n)

	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6]*1000, time.UTC)

	return t.Format(time.RFC3339Nano), nil
}

func pyDate(args []any) (any, error) {
	n, ok := intArgs(args)
	if !ok || len(n) != 3 {
		return nil, fmt.Errorf("python literal: bad date arguments %v", args)
	}

	return time.Date(n[0], time.Month(n[1]), n[2], 0, 0, 0, 0, time.UTC).Format(time.RFC3339), nil
}
