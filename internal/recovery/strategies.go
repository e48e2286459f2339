package recovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// Strategy is one rung of the recovery ladder. Try is pure: it either returns
// the decoded object or an error, ErrNoCandidate when it had nothing to work on.
type Strategy struct {
	Name string
	Try  func(raw string) (map[string]any, error)
}

// Strategy names, reported in Recovered.Strategy.
const (
	StrategyStrict    = "strict"
	StrategyFenced    = "fenced"
	StrategyBraced    = "braced"
	StrategyLiteral   = "literal"
	StrategyLargest   = "largest"
	StrategyRepair    = "repair"
	StrategyAutoClose = "autoclose"
)

// DefaultStrategies returns the ladder in the order it must be tried. Each
// rung is more permissive and more expensive than the one before it.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{StrategyStrict, parseStrict},
		{StrategyFenced, parseFenced},
		{StrategyBraced, parseBraced},
		{StrategyLiteral, parseLiteral},
		{StrategyLargest, parseLargest},
		{StrategyRepair, parseRepaired},
		{StrategyAutoClose, parseAutoClosed},
	}
}

// decodeObject parses s as strict JSON and requires an object at the top.
func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, not an object", v)
	}
	return obj, nil
}

// decodeLiteral accepts Python-style literals: single-quoted strings and
// True/False/None. Plain JSON spans are refused so that syntax errors are left
// for the repair rungs.
func decodeLiteral(s string) (map[string]any, error) {
	normalized, pythonic := normalizeLiterals(s)
	if !pythonic {
		return nil, ErrNoCandidate
	}
	if obj, err := decodeObject(normalized); err == nil {
		return obj, nil
	}
	// json5 also takes trailing commas and comments.
	var obj map[string]any
	if err := json5.Unmarshal([]byte(normalized), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("literal is not an object")
	}
	return obj, nil
}

func parseStrict(raw string) (map[string]any, error) {
	return decodeObject(strings.TrimSpace(raw))
}

func parseFenced(raw string) (map[string]any, error) {
	body, ok := fencedBlock(raw)
	if !ok {
		return nil, ErrNoCandidate
	}
	return decodeObject(body)
}

func parseBraced(raw string) (map[string]any, error) {
	span, ok := firstObject(raw)
	if !ok {
		return nil, ErrNoCandidate
	}
	return decodeObject(span)
}

func parseLiteral(raw string) (map[string]any, error) {
	span, ok := candidate(raw)
	if !ok {
		return nil, ErrNoCandidate
	}
	return decodeLiteral(span)
}

// parseLargest tries every balanced object in the whole text and keeps the
// longest one that decodes.
func parseLargest(raw string) (map[string]any, error) {
	spans := objects(raw)
	if len(spans) == 0 {
		return nil, ErrNoCandidate
	}

	var best map[string]any
	bestLen := -1
	var lastErr error
	for _, span := range spans {
		if len(span) <= bestLen {
			continue
		}
		obj, err := decodeObject(span)
		if err != nil {
			lastErr = err
			if obj, err = decodeLiteral(span); err != nil {
				continue
			}
		}
		best, bestLen = obj, len(span)
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

func parseRepaired(raw string) (map[string]any, error) {
	span, ok := candidate(raw)
	if !ok {
		span = raw
	}
	cleaned := stripTrailingCommas(span)
	obj, err := decodeObject(cleaned)
	if err == nil {
		return obj, nil
	}
	if !strings.Contains(cleaned, "'") {
		return nil, err
	}
	return decodeObject(swapQuotes(cleaned))
}

// parseAutoClosed repairs a response that was cut off mid-structure.
func parseAutoClosed(raw string) (map[string]any, error) {
	text, ok := candidate(raw)
	if !ok {
		i := strings.IndexByte(raw, '{')
		if i < 0 {
			return nil, ErrNoCandidate
		}
		text = raw[i:]
	}

	text = stripTrailingCommas(stripFence(text))
	text = strings.TrimRight(text, " \t\r\n")
	closed := stripTrailingCommas(closeTruncated(text))

	obj, err := decodeObject(closed)
	if err == nil {
		return obj, nil
	}
	if !strings.Contains(closed, "'") {
		return nil, err
	}
	if obj, qerr := decodeObject(swapQuotes(closed)); qerr == nil {
		return obj, nil
	}
	return nil, err
}
