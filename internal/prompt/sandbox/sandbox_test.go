package sandbox_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

func TestRenderString(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name string
		tmpl string
		ctx  map[string]any
		want string
	}{
		{name: "plain text", tmpl: "no tags here", want: "no tags here"},
		{name: "variable", tmpl: "Hello {{ name }}!", ctx: map[string]any{"name": "World"}, want: "Hello World!"},
		{name: "undefined renders empty", tmpl: "[{{ missing }}]", want: "[]"},
		{name: "nested path", tmpl: "{{ user.profile.city }}", ctx: map[string]any{
			"user": map[string]any{"profile": map[string]any{"city": "Vienna"}},
		}, want: "Vienna"},
		{name: "index and quoted key", tmpl: `{{ items[1] }} {{ m["a b"] }}`, ctx: map[string]any{
			"items": []string{"x", "y"},
			"m":     map[string]any{"a b": "z"},
		}, want: "y z"},
		{name: "index out of range", tmpl: "[{{ items[5] }}]", ctx: map[string]any{"items": []int{1}}, want: "[]"},
		{name: "numbers", tmpl: "{{ n }} {{ f }}", ctx: map[string]any{"n": 42, "f": 1.5}, want: "42 1.5"},
		{name: "bool", tmpl: "{{ ok }}", ctx: map[string]any{"ok": true}, want: "true"},
		{name: "comment dropped", tmpl: "a{# ignored {{ x }} #}b", want: "ab"},
		{name: "literal", tmpl: `{{ "lit" }}`, want: "lit"},
		{name: "struct context normalized", tmpl: "{{ item.Title }}", ctx: map[string]any{
			"item": struct{ Title string }{Title: "doc"},
		}, want: "doc"},
		{name: "truncate words", tmpl: "{{ text | truncate_words(3) }}", ctx: map[string]any{
			"text": "one two three four five",
		}, want: "one two three..."},
		{name: "truncate words short input unchanged", tmpl: "{{ text | truncate_words(5) }}", ctx: map[string]any{
			"text": "one two",
		}, want: "one two"},
		{name: "chained filters", tmpl: "{{ name | trim | upper }}", ctx: map[string]any{"name": "  ada "}, want: "ADA"},
		{name: "default", tmpl: `{{ missing | default("n/a") }}`, want: "n/a"},
		{name: "join", tmpl: `{{ tags | join(", ") }}`, ctx: map[string]any{"tags": []string{"a", "b"}}, want: "a, b"},
		{name: "length", tmpl: "{{ tags | length }}", ctx: map[string]any{"tags": []string{"a", "b"}}, want: "2"},
		{name: "json pretty", tmpl: "{{ data | json_pretty }}", ctx: map[string]any{
			"data": map[string]any{"b": []int{1}, "a": "<x>"},
		}, want: "{\n  \"a\": \"<x>\",\n  \"b\": [\n    1\n  ]\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.RenderString(tt.tmpl, tt.ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderStringControlFlow(t *testing.T) {
	sb := sandbox.New()
	ctx := map[string]any{
		"n":     2,
		"tags":  []string{"go", "rust"},
		"empty": []string{},
		"m":     map[string]any{"b": 2, "a": 1},
		"user":  map[string]any{"admin": true},
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{name: "if elif else", tmpl: "{% if n == 1 %}one{% elif n == 2 %}two{% else %}many{% endif %}", want: "two"},
		{name: "else branch", tmpl: "{% if n != 2 %}x{% else %}y{% endif %}", want: "y"},
		{name: "not", tmpl: "{% if not missing %}absent{% endif %}", want: "absent"},
		{name: "and or", tmpl: "{% if user.admin and (n == 3 or n == 2) %}ok{% endif %}", want: "ok"},
		{name: "in list", tmpl: `{% if "go" in tags %}yes{% endif %}`, want: "yes"},
		{name: "not in", tmpl: `{% if "java" not in tags %}no java{% endif %}`, want: "no java"},
		{name: "in string", tmpl: `{% if "ru" in "rust" %}sub{% endif %}`, want: "sub"},
		{
			name: "for with loop vars",
			tmpl: "{% for t in tags %}{{ loop.index }}:{{ t }}{% if not loop.last %}, {% endif %}{% endfor %}",
			want: "1:go, 2:rust",
		},
		{name: "for else", tmpl: "{% for t in empty %}{{ t }}{% else %}none{% endfor %}", want: "none"},
		{name: "for over map keys sorted", tmpl: "{% for k in m %}{{ k }}={{ m[k] }};{% endfor %}", want: "a=1;b=2;"},
		{name: "loop var scoped", tmpl: "{% for t in tags %}{% endfor %}[{{ t }}]", want: "[]"},
		{
			name: "nested loops",
			tmpl: "{% for a in tags %}{% for b in tags %}{% if a != b %}{{ a }}>{{ b }} {% endif %}{% endfor %}{% endfor %}",
			want: "go>rust rust>go ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.RenderString(tt.tmpl, ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderStringSecurity(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name       string
		tmpl       string
		categories []sandbox.Category
		mention    string
	}{
		{name: "eval call", tmpl: "{{ eval('1+1') }}", categories: []sandbox.Category{sandbox.CategoryCodeExecution}, mention: "eval"},
		{name: "exec in unreached branch", tmpl: `{% if false %}{{ exec("x") }}{% endif %}`, categories: []sandbox.Category{sandbox.CategoryCodeExecution}, mention: "exec"},
		{name: "method style call", tmpl: "{{ os.system('ls') }}", categories: []sandbox.Category{sandbox.CategoryCodeExecution}, mention: "system"},
		{name: "denylisted filter", tmpl: "{{ x | eval }}", categories: []sandbox.Category{sandbox.CategoryCodeExecution}, mention: "eval"},
		{name: "dunder attribute", tmpl: "{{ user.__class__ }}", categories: []sandbox.Category{sandbox.CategoryDunderAccess}, mention: "__class__"},
		{name: "dunder subscript", tmpl: `{{ user["__globals__"] }}`, categories: []sandbox.Category{sandbox.CategoryDunderAccess}, mention: "__globals__"},
		{name: "dunder in condition", tmpl: "{% if __builtins__ %}x{% endif %}", categories: []sandbox.Category{sandbox.CategoryDunderAccess}, mention: "__builtins__"},
		{name: "import statement", tmpl: "{% import 'os' as os %}", categories: []sandbox.Category{sandbox.CategoryImport}, mention: "import"},
		{name: "from import", tmpl: "{% from 'macros' import m %}", categories: []sandbox.Category{sandbox.CategoryImport}, mention: "from"},
		{name: "include", tmpl: `{% include "other.txt" %}`, categories: []sandbox.Category{sandbox.CategoryImport}, mention: "include"},
		{name: "extends", tmpl: `{% extends "base" %}`, categories: []sandbox.Category{sandbox.CategoryImport}, mention: "extends"},
		{name: "import inside output", tmpl: "{{ import os }}", categories: []sandbox.Category{sandbox.CategoryImport}, mention: "import"},
		{
			name:       "dunder import is call and dunder",
			tmpl:       "{{ __import__('os') }}",
			categories: []sandbox.Category{sandbox.CategoryCodeExecution, sandbox.CategoryDunderAccess},
			mention:    "__import__",
		},
		{
			name:       "all categories in priority order",
			tmpl:       "{% include 'x' %}{{ a.__dict__ }}{{ open('/etc/passwd') }}",
			categories: []sandbox.Category{sandbox.CategoryCodeExecution, sandbox.CategoryDunderAccess, sandbox.CategoryImport},
			mention:    "open",
		},
		{name: "unclosed tag still scanned", tmpl: "{{ eval(1)", categories: []sandbox.Category{sandbox.CategoryCodeExecution}, mention: "eval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sb.RenderString(tt.tmpl, map[string]any{"x": 1}, nil)
			var secErr *sandbox.SecurityError
			require.ErrorAs(t, err, &secErr)
			require.NotEmpty(t, secErr.Violations)
			assert.Equal(t, tt.categories, secErr.Categories())
			assert.Contains(t, err.Error(), tt.mention)
		})
	}
}

func TestRenderStringAllowsProse(t *testing.T) {
	sb := sandbox.New()
	got, err := sb.RenderString("Please import the data and eval() it, {{ name }}.", map[string]any{"name": "Bo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Please import the data and eval() it, Bo.", got)
}

func TestRenderStringEveryViolationListed(t *testing.T) {
	sb := sandbox.New()
	_, err := sb.RenderString("{{ eval(1) }}{{ exec(2) }}{{ a.__class__ }}", nil, nil)

	var secErr *sandbox.SecurityError
	require.ErrorAs(t, err, &secErr)
	require.Len(t, secErr.Violations, 3)
	assert.Equal(t, "code execution: call to eval()", secErr.Violations[0].String())
	assert.Equal(t, "code execution: call to exec()", secErr.Violations[1].String())
	assert.Equal(t, "dunder access: access to __class__", secErr.Violations[2].String())
	assert.Equal(t, 3, secErr.Violations[0].Offset)
}

func TestRenderStringSanitizesContext(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name string
		tmpl string
		ctx  map[string]any
		want string
	}{
		{
			name: "shadowed builtin key has no effect",
			tmpl: "{{ eval }}{{ name }}",
			ctx:  map[string]any{"eval": "boom", "name": "World"},
			want: "World",
		},
		{
			name: "dunder key has no effect",
			tmpl: "{% for k in ctx %}{{ k }};{% endfor %}",
			ctx:  map[string]any{"ctx": map[string]any{"__class__": "x", "ok": 1, "open": "y"}},
			want: "ok;open;",
		},
		{
			name: "nested keys stripped",
			tmpl: "{{ user | json_pretty }}",
			ctx: map[string]any{"user": map[string]any{
				"name":  "a",
				"items": []any{map[string]any{"__dict__": 1, "id": 2}},
			}},
			want: "{\n  \"items\": [\n    {\n      \"id\": 2\n    }\n  ],\n  \"name\": \"a\"\n}",
		},
		{
			name: "callable value dropped",
			tmpl: "[{{ fn }}]{{ ok }}",
			ctx:  map[string]any{"fn": func() string { return "pwned" }, "ok": "y"},
			want: "[]y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.RenderString(tt.tmpl, tt.ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeContext(t *testing.T) {
	sb := sandbox.New()
	in := map[string]any{
		"__builtins__": map[string]any{},
		"exec":         "x",
		"keep":         map[string]any{"__init__": 1, "v": 2},
		"list":         []int{1, 2},
	}

	got := sb.SanitizeContext(in)
	want := map[string]any{
		"keep": map[string]any{"v": json.Number("2")},
		"list": []any{json.Number("1"), json.Number("2")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SanitizeContext() mismatch (-want +got):\n%s", diff)
	}

	// The caller's map is untouched.
	assert.Contains(t, in, "exec")
	assert.Contains(t, in["keep"], "__init__")
	assert.Empty(t, sb.SanitizeContext(nil))
}

func TestRenderStringKeepsDataKeys(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name string
		tmpl string
		ctx  map[string]any
		want string
	}{
		{
			name: "top-level keys that are not built-ins",
			tmpl: "[{{ system }}|{{ input }}|{{ popen }}|{{ door.open }}]",
			ctx: map[string]any{
				"system": "You are a safety auditor",
				"input":  "the user's question",
				"popen":  "p",
				"door":   map[string]any{"open": true},
			},
			want: "[You are a safety auditor|the user's question|p|true]",
		},
		{
			name: "nested built-in names survive json_pretty",
			tmpl: "{{ d | json_pretty }}",
			ctx:  map[string]any{"d": map[string]any{"open": true, "vars": 3, "__class__": "x"}},
			want: "{\n  \"open\": true,\n  \"vars\": 3\n}",
		},
		{
			name: "top-level built-in still shadowed",
			tmpl: "[{{ open }}{{ vars }}]",
			ctx:  map[string]any{"open": "f", "vars": "v"},
			want: "[]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.RenderString(tt.tmpl, tt.ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderStringLargeIntegers(t *testing.T) {
	sb := sandbox.New()
	ctx := map[string]any{
		"id":    int64(9007199254740993),
		"other": int64(9007199254740992),
		"ids":   []int64{9007199254740993, 42},
		"ratio": 0.25,
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{name: "output keeps digits", tmpl: "{{ id }}", want: "9007199254740993"},
		{name: "json_pretty keeps digits", tmpl: "{{ ids | json_pretty }}", want: "[\n  9007199254740993,\n  42\n]"},
		{name: "neighbours are not equal", tmpl: "{% if id == other %}same{% else %}different{% endif %}", want: "different"},
		{name: "literal comparison", tmpl: "{% if ids[1] == 42 %}yes{% endif %}", want: "yes"},
		{name: "index by number", tmpl: "{{ ids[1] }}", want: "42"},
		{name: "fraction", tmpl: "{{ ratio }}{% if ratio == 0.25 %} quarter{% endif %}", want: "0.25 quarter"},
		{name: "truncate with numeric arg", tmpl: "{{ \"a b c\" | truncate_words(ids[1]) }}", want: "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.RenderString(tt.tmpl, ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderStringSchema(t *testing.T) {
	sb := sandbox.New()
	sch, err := schema.Compile(map[string]any{
		"type":     "object",
		"required": []any{"name"},
	})
	require.NoError(t, err)

	_, err = sb.RenderString("Hello {{ name }}!", map[string]any{}, sch)
	var cvErr *sandbox.ContextValidationError
	require.ErrorAs(t, err, &cvErr)
	require.NotEmpty(t, cvErr.Problems)
	assert.Contains(t, cvErr.Error(), "name")

	got, err := sb.RenderString("Hello {{ name }}!", map[string]any{"name": "World"}, sch)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", got)

	// Schema validation sees the sanitized context.
	_, err = sb.RenderString("x", map[string]any{"__name__": "World"}, mustCompile(t, map[string]any{
		"type": "object", "required": []any{"__name__"},
	}))
	assert.ErrorAs(t, err, &cvErr)
}

func mustCompile(t *testing.T, d map[string]any) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(d)
	require.NoError(t, err)
	return s
}

func TestRenderStringSyntaxErrors(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name string
		tmpl string
	}{
		{name: "unclosed output", tmpl: "Hello {{ name"},
		{name: "missing endif", tmpl: "{% if x %}a"},
		{name: "stray endfor", tmpl: "a{% endfor %}"},
		{name: "unknown statement", tmpl: "{% set x = 1 %}"},
		{name: "unknown filter", tmpl: "{{ x | shout }}"},
		{name: "call on value", tmpl: "{{ name() }}"},
		{name: "empty expression", tmpl: "{{ }}"},
		{name: "trailing tokens", tmpl: "{{ a b }}"},
		{name: "bad for", tmpl: "{% for in xs %}{% endfor %}"},
		{name: "unterminated string", tmpl: `{{ "abc }}`},
		{name: "junk after else", tmpl: "{% if a %}{% else b %}{% endif %}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sb.RenderString(tt.tmpl, nil, nil)
			var synErr *sandbox.SyntaxError
			assert.ErrorAs(t, err, &synErr)
		})
	}
}

func TestRenderStringFilterError(t *testing.T) {
	sb := sandbox.New()
	_, err := sb.RenderString(`{{ text | truncate_words("many") }}`, map[string]any{"text": "a b"}, nil)

	var renderErr *sandbox.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Contains(t, err.Error(), "truncate_words")
}

func TestWithFilter(t *testing.T) {
	sb := sandbox.New(sandbox.WithFilter("exclaim", func(v any, _ ...any) (any, error) {
		s, _ := v.(string)
		return s + "!", nil
	}))

	got, err := sb.RenderString("{{ word | exclaim }}", map[string]any{"word": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi!", got)
}

func TestRender(t *testing.T) {
	sb := sandbox.New()
	defaults := map[string]any{"tone": "formal", "name": "default"}

	got, err := sb.Render(
		"Be {{ tone }}.",
		"Greet {{ name }}.",
		map[string]any{"name": "World"},
		defaults,
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, sandbox.RenderedPrompt{SystemPrompt: "Be formal.", UserPrompt: "Greet World."}, got)

	// Defaults are not modified by the merge.
	assert.Equal(t, "default", defaults["name"])
}

func TestRenderReportsPart(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name     string
		system   string
		user     string
		wantPart string
	}{
		{name: "system fails", system: "{{ eval(1) }}", user: "ok", wantPart: sandbox.PartSystemPrompt},
		{name: "user fails", system: "ok", user: "{{ x.__class__ }}", wantPart: sandbox.PartUserPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sb.Render(tt.system, tt.user, nil, nil, nil)

			var partErr *sandbox.PartError
			require.ErrorAs(t, err, &partErr)
			assert.Equal(t, tt.wantPart, partErr.Part)

			var secErr *sandbox.SecurityError
			assert.True(t, errors.As(err, &secErr))
		})
	}
}

func TestValidateTemplate(t *testing.T) {
	sb := sandbox.New()

	tests := []struct {
		name      string
		tmpl      string
		wantValid bool
		wantErrs  int
	}{
		{name: "valid", tmpl: "Hello {{ name | upper }}{% if x %}!{% endif %}", wantValid: true},
		{name: "empty", tmpl: "", wantValid: true},
		{name: "one violation", tmpl: "{{ eval(1) }}", wantErrs: 1},
		{name: "every violation", tmpl: "{{ eval(1) }}{{ a.__dict__ }}{% import x %}", wantErrs: 3},
		{name: "syntax error", tmpl: "{% if %}", wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sb.ValidateTemplate(tt.tmpl)
			assert.Equal(t, tt.wantValid, res.Valid())
			assert.Len(t, res.Errors, tt.wantErrs)
			assert.Equal(t, len(res.Errors) == 0, res.Valid())
		})
	}
}

func TestValidateTemplateNeverPanics(t *testing.T) {
	sb := sandbox.New()
	inputs := []string{
		"{", "{{", "{%", "{#", "}}", "%}", "{{{{", "{% %}", "{{ | }}", "{{ a.[ }}", "{{ a[ }}",
		"{{ ( }}", "{{ a | }}", "{{ a | f( }}", "{% for %}", "{% if a %}{% elif %}", "{{ 'x", "{{ -",
		"{{ not }}", "{{ a == }}", "{% endif %}{% endif %}", "{{ \\ }}", "{{ a.1.2 }}", "\x00{{\xff}}",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = sb.ValidateTemplate(in) }, in)
		assert.NotPanics(t, func() { _, _ = sb.RenderString(in, nil, nil) }, in)
	}
}
