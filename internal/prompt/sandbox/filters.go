package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Filter transforms a value inside a template. Filters must be pure.
type Filter func(value any, args ...any) (any, error)

var errFilterArgs = errors.New("wrong number of filter arguments")

// ellipsis is appended by truncate_words when it drops words.
const ellipsis = "..."

func builtinFilters() map[string]Filter {
	return map[string]Filter{
		"truncate_words": truncateWords,
		"json_pretty":    jsonPretty,
		"upper":          stringFilter(strings.ToUpper),
		"lower":          stringFilter(strings.ToLower),
		"trim":           stringFilter(strings.TrimSpace),
		"default":        defaultValue,
		"join":           join,
		"length":         length,
	}
}

// truncateWords keeps the first n words and appends an ellipsis only when
// words were dropped.
func truncateWords(value any, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("truncate_words: %w: want 1, got %d", errFilterArgs, len(args))
	}
	n, ok := toInt(args[0])
	if !ok {
		return nil, fmt.Errorf("truncate_words: word count must be a number, got %T", args[0])
	}

	s := stringify(value)
	words := strings.Fields(s)
	if len(words) <= n {
		return s, nil
	}
	if n <= 0 {
		return ellipsis, nil
	}
	return strings.Join(words[:n], " ") + ellipsis, nil
}

// jsonPretty renders value as two-space indented JSON.
func jsonPretty(value any, args ...any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("json_pretty: %w: want 0, got %d", errFilterArgs, len(args))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("json_pretty: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func stringFilter(fn func(string) string) Filter {
	return func(value any, args ...any) (any, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: want 0, got %d", errFilterArgs, len(args))
		}
		return fn(stringify(value)), nil
	}
}

func defaultValue(value any, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("default: %w: want 1, got %d", errFilterArgs, len(args))
	}
	if value == nil || value == "" {
		return args[0], nil
	}
	return value, nil
}

func join(value any, args ...any) (any, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("join: %w: want at most 1, got %d", errFilterArgs, len(args))
	}
	sep := ""
	if len(args) == 1 {
		sep = stringify(args[0])
	}
	items, ok := value.([]any)
	if !ok {
		return stringify(value), nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = stringify(it)
	}
	return strings.Join(parts, sep), nil
}

func length(value any, args ...any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("length: %w: want 0, got %d", errFilterArgs, len(args))
	}
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return utf8.RuneCountInString(v), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	default:
		return utf8.RuneCountInString(stringify(v)), nil
	}
}
