package template

import (
	"fmt"
	"strings"
)

// rawTag is one {{ ... }} or {% ... %} occurrence found while scanning
// the template source for markers.
type rawTag struct {
	isBlock bool
	body    string
}

// scanner walks the template text, splitting it into textNodes and raw
// tags, and hands the sequence to the recursive block parser below.
type scanner struct {
	src string
	pos int
}

// next returns the next textNode (possibly empty) and the tag that
// follows it, or ok=false at end of input.
func (s *scanner) next() (text string, tag rawTag, ok bool) {
	if s.pos >= len(s.src) {
		return "", rawTag{}, false
	}
	varIdx := strings.Index(s.src[s.pos:], "{{")
	blockIdx := strings.Index(s.src[s.pos:], "{%")
	start := -1
	isBlock := false
	switch {
	case varIdx == -1 && blockIdx == -1:
		text = s.src[s.pos:]
		s.pos = len(s.src)
		return text, rawTag{}, false
	case varIdx == -1:
		start, isBlock = blockIdx, true
	case blockIdx == -1:
		start, isBlock = varIdx, false
	case blockIdx < varIdx:
		start, isBlock = blockIdx, true
	default:
		start, isBlock = varIdx, false
	}
	text = s.src[s.pos : s.pos+start]
	closeMarker := "}}"
	if isBlock {
		closeMarker = "%}"
	}
	rest := s.src[s.pos+start+2:]
	end := strings.Index(rest, closeMarker)
	if end == -1 {
		// Unterminated tag: treat the rest of the source as literal text.
		text += s.src[s.pos+start:]
		s.pos = len(s.src)
		return text, rawTag{}, false
	}
	body := strings.TrimSpace(rest[:end])
	s.pos = s.pos + start + 2 + end + 2
	return text, rawTag{isBlock: isBlock, body: body}, true
}

// parseTemplate parses the full template source into a node tree.
func parseTemplate(src string) ([]node, error) {
	sc := &scanner{src: src}
	nodes, _, err := parseUntil(sc, "")
	return nodes, err
}

// parseUntil consumes nodes until it sees a block tag whose keyword is
// in stopAt (a space-separated list, e.g. "endif elif else"), or end of
// input if stopAt is empty. It returns the stopping tag's keyword.
func parseUntil(sc *scanner, stopAt string) ([]node, string, error) {
	var nodes []node
	for {
		text, tag, ok := sc.next()
		if text != "" {
			nodes = append(nodes, &textNode{text: text})
		}
		if !ok {
			if stopAt != "" {
				return nil, "", fmt.Errorf("unexpected end of template, expected one of: %s", stopAt)
			}
			return nodes, "", nil
		}
		if !tag.isBlock {
			e, err := parseExprString(tag.body)
			if err != nil {
				return nil, "", fmt.Errorf("parsing {{ %s }}: %w", tag.body, err)
			}
			nodes = append(nodes, &subNode{e: e})
			continue
		}
		keyword, rest := splitKeyword(tag.body)
		if stopAt != "" && containsWord(stopAt, keyword) {
			return nodes, keyword, nil
		}
		switch keyword {
		case "if":
			n, nextKeyword, err := parseIf(sc, rest)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
			if nextKeyword != "endif" {
				return nil, "", fmt.Errorf("expected endif, got %s", nextKeyword)
			}
		case "for":
			n, err := parseFor(sc, rest)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		case "set":
			n, err := parseSet(rest)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		default:
			return nil, "", fmt.Errorf("unknown block tag %q", keyword)
		}
	}
}

func splitKeyword(body string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(body), " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func containsWord(list, word string) bool {
	for _, w := range strings.Fields(list) {
		if w == word {
			return true
		}
	}
	return false
}

// parseIf supports {% if %}...{% else %}...{% endif %}. elif is
// deliberately not supported; a workflow author who needs it nests a
// second {% if %} inside the else branch.
func parseIf(sc *scanner, condSrc string) (node, string, error) {
	cond, err := parseExprString(condSrc)
	if err != nil {
		return nil, "", fmt.Errorf("parsing if condition %q: %w", condSrc, err)
	}
	n := &ifNode{}
	body, stop, err := parseUntil(sc, "else endif")
	if err != nil {
		return nil, "", err
	}
	n.branches = append(n.branches, ifBranch{cond: cond, body: body})
	if stop == "else" {
		elseBody, stop2, err := parseUntil(sc, "endif")
		if err != nil {
			return nil, "", err
		}
		n.branches = append(n.branches, ifBranch{cond: nil, body: elseBody})
		return n, stop2, nil
	}
	return n, stop, nil
}

func parseFor(sc *scanner, spec string) (node, error) {
	// spec form: "x in expr"
	idx := strings.Index(spec, " in ")
	if idx == -1 {
		return nil, fmt.Errorf("malformed for tag %q, expected 'x in expr'", spec)
	}
	varName := strings.TrimSpace(spec[:idx])
	listSrc := strings.TrimSpace(spec[idx+4:])
	listExpr, err := parseExprString(listSrc)
	if err != nil {
		return nil, fmt.Errorf("parsing for-loop list %q: %w", listSrc, err)
	}
	body, stop, err := parseUntil(sc, "endfor")
	if err != nil {
		return nil, err
	}
	if stop != "endfor" {
		return nil, fmt.Errorf("expected endfor")
	}
	return &forNode{varName: varName, list: listExpr, body: body}, nil
}

func parseSet(spec string) (node, error) {
	idx := strings.Index(spec, "=")
	if idx == -1 {
		return nil, fmt.Errorf("malformed set tag %q, expected 'name = expr'", spec)
	}
	name := strings.TrimSpace(spec[:idx])
	valSrc := strings.TrimSpace(spec[idx+1:])
	e, err := parseExprString(valSrc)
	if err != nil {
		return nil, fmt.Errorf("parsing set value %q: %w", valSrc, err)
	}
	return &setNode{name: name, e: e}, nil
}
