package sandbox

import (
	"bytes"
	"encoding/json"
)

// shadowedBuiltins may not appear as top-level context keys, where they would
// shadow a code-execution built-in in the template's scope. Nested keys are
// plain data reached through a path and only lose dunder names.
var shadowedBuiltins = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"execfile":   true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"open":       true,
	"breakpoint": true,
	"import":     true,
	"builtins":   true,
}

func isDeniedTopLevelKey(key string) bool {
	return isDunder(key) || shadowedBuiltins[key]
}

// sanitize normalizes ctx to plain JSON data and removes denied keys. Values
// that cannot be represented as JSON, such as funcs and channels, are
// dropped. Numbers become json.Number so large integers keep their digits.
// It returns the cleaned map and the dotted paths of removed entries.
func sanitize(ctx map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(ctx))
	var removed []string
	for k, v := range ctx {
		if isDeniedTopLevelKey(k) {
			removed = append(removed, k)
			continue
		}
		norm, ok := normalize(v)
		if !ok {
			removed = append(removed, k)
			continue
		}
		out[k] = strip(norm, k, &removed)
	}
	return out, removed
}

// normalize converts v into the generic form encoding/json decodes into,
// with numbers as json.Number.
func normalize(v any) (any, bool) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

func strip(v any, path string, removed *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			childPath := path + "." + k
			if isDunder(k) {
				delete(t, k)
				*removed = append(*removed, childPath)
				continue
			}
			t[k] = strip(child, childPath, removed)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = strip(child, path+"[]", removed)
		}
		return t
	}
	return v
}
