package sandbox

import (
	"strings"
)

type segmentKind int

const (
	segText segmentKind = iota
	segOutput
	segStatement
	segComment
)

// segment is a run of literal text or the interior of one tag.
type segment struct {
	kind   segmentKind
	body   string
	offset int // offset of body within the source
	closed bool
}

var tagClose = map[byte]string{'{': "}}", '%': "%}", '#': "#}"}

// splitSegments cuts src into text and tag segments. It never fails; an
// unterminated tag swallows the rest of the source and is marked unclosed.
func splitSegments(src string) []segment {
	var segs []segment
	pos := 0
	for pos < len(src) {
		start := indexTagOpen(src, pos)
		if start < 0 {
			segs = append(segs, segment{kind: segText, body: src[pos:], offset: pos, closed: true})
			break
		}
		if start > pos {
			segs = append(segs, segment{kind: segText, body: src[pos:start], offset: pos, closed: true})
		}

		marker := src[start+1]
		bodyStart := start + 2
		seg := segment{offset: bodyStart}
		switch marker {
		case '{':
			seg.kind = segOutput
		case '%':
			seg.kind = segStatement
		default:
			seg.kind = segComment
		}

		end := strings.Index(src[bodyStart:], tagClose[marker])
		if end < 0 {
			seg.body = src[bodyStart:]
			segs = append(segs, seg)
			break
		}
		seg.body = src[bodyStart : bodyStart+end]
		seg.closed = true
		segs = append(segs, seg)
		pos = bodyStart + end + 2
	}
	return segs
}

func indexTagOpen(src string, from int) int {
	for i := from; i+1 < len(src); i++ {
		if src[i] != '{' {
			continue
		}
		switch src[i+1] {
		case '{', '%', '#':
			return i
		}
	}
	return -1
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
	tokIllegal
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func (t token) is(kind tokenKind, val string) bool { return t.kind == kind && t.val == val }

// lexExpr tokenizes a tag interior. base is the interior's offset in the
// template so token positions are absolute. The returned slice always ends
// with a tokEOF token.
func lexExpr(src string, base int) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, val: src[i:j], pos: base + i})
			i = j
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, val: src[i:j], pos: base + i})
			i = j
		case c == '"' || c == '\'':
			val, n, ok := lexString(src[i:])
			kind := tokString
			if !ok {
				kind = tokIllegal
			}
			toks = append(toks, token{kind: kind, val: val, pos: base + i})
			i += n
		case (c == '=' || c == '!') && i+1 < len(src) && src[i+1] == '=':
			toks = append(toks, token{kind: tokPunct, val: src[i : i+2], pos: base + i})
			i += 2
		case strings.IndexByte(".[](),|", c) >= 0:
			toks = append(toks, token{kind: tokPunct, val: string(c), pos: base + i})
			i++
		default:
			toks = append(toks, token{kind: tokIllegal, val: string(c), pos: base + i})
			i++
		}
	}
	return append(toks, token{kind: tokEOF, pos: base + len(src)})
}

// lexString decodes a quoted literal at the start of s, returning the value,
// the number of bytes consumed and whether the literal was terminated.
func lexString(s string) (string, int, bool) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote:
			return b.String(), i + 1, true
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(s), false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
