package engines

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cryguy/render/internal/core"
)

func render(t *testing.T, e core.Engine, content string, helpers map[string]core.Helper, data map[string]any) string {
	t.Helper()
	compiled, err := e.Compile(content, nil)
	if err != nil {
		t.Fatalf("%s Compile: %v", e.Name(), err)
	}
	out, err := e.Execute(compiled, helpers, data, nil)
	if err != nil {
		t.Fatalf("%s Execute: %v", e.Name(), err)
	}
	return out
}

func upper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errors.New("upper takes one argument")
	}
	return strings.ToUpper(args[0].(string)), nil
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	if diff := cmp.Diff([]string{"gotemplate", "none", "pongo2"}, r.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Lookup("doesNotExist"); ok {
		t.Error("Lookup(doesNotExist) succeeded")
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(None{})
	r.Register(NewPongo2())
	e, ok := r.Lookup("pongo2")
	if !ok || e.Name() != "pongo2" {
		t.Fatalf("Lookup(pongo2) = %v, %v", e, ok)
	}
}

func TestPongo2_DataAndHelpers(t *testing.T) {
	p := NewPongo2()
	got := render(t, p, `Hello {{ name }} {{ upper("abc") }}`,
		map[string]core.Helper{"upper": upper},
		map[string]any{"name": "World"})
	if got != "Hello World ABC" {
		t.Errorf("got %q", got)
	}
}

func TestPongo2_HelperShadowsData(t *testing.T) {
	p := NewPongo2()
	got := render(t, p, `{{ upper("x") }}`,
		map[string]core.Helper{"upper": upper},
		map[string]any{"upper": "data"})
	if got != "X" {
		t.Errorf("got %q", got)
	}
}

func TestPongo2_CompileError(t *testing.T) {
	if _, err := NewPongo2().Compile(`{% if %}`, nil); err == nil {
		t.Error("expected compile error")
	}
}

func TestPongo2_IncludeRejected(t *testing.T) {
	p := NewPongo2()
	compiled, err := p.Compile(`{% include "other.html" %}`, nil)
	if err == nil {
		_, err = p.Execute(compiled, nil, nil, nil)
	}
	if err == nil || !strings.Contains(err.Error(), "component helper") {
		t.Errorf("err = %v", err)
	}
}

func TestPongo2_HelperErrorPropagates(t *testing.T) {
	p := NewPongo2()
	compiled, err := p.Compile(`{{ fail() }}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Execute(compiled, map[string]core.Helper{
		"fail": func(...any) (any, error) { return nil, errors.New("helper failed") },
	}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "helper failed") {
		t.Errorf("err = %v", err)
	}
}

func TestPongo2_OnRequire(t *testing.T) {
	p := NewPongo2()
	src, ok := p.OnRequire("pongo2", p.CreateContext())
	if !ok || !strings.Contains(src, `engine: "pongo2"`) {
		t.Errorf("OnRequire(pongo2) = %q, %v", src, ok)
	}
	if _, ok := p.OnRequire("fs", nil); ok {
		t.Error("OnRequire(fs) should fall through")
	}
}

func TestGoTemplate_DataAndHelpers(t *testing.T) {
	g := NewGoTemplate()
	got := render(t, g, `Hello {{.name}} {{upper "abc"}}`,
		map[string]core.Helper{"upper": upper},
		map[string]any{"name": "World"})
	if got != "Hello World ABC" {
		t.Errorf("got %q", got)
	}
}

func TestGoTemplate_CompiledHandleReusable(t *testing.T) {
	g := NewGoTemplate()
	compiled, err := g.Compile(`{{define "x"}}[{{.}}]{{end}}{{template "x" .v}}{{greet}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, word := range []string{"a", "b"} {
		word := word
		out, err := g.Execute(compiled, map[string]core.Helper{
			"greet": func(...any) (any, error) { return word, nil },
		}, map[string]any{"v": 1}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if want := "[1]" + word; out != want {
			t.Errorf("out = %q, want %q", out, want)
		}
	}
}

func TestGoTemplate_SyntaxError(t *testing.T) {
	if _, err := NewGoTemplate().Compile(`{{if .x}}unterminated`, nil); err == nil {
		t.Error("expected compile error")
	}
}

func TestGoTemplate_UndefinedHelper(t *testing.T) {
	g := NewGoTemplate()
	compiled, err := g.Compile(`{{missing}}`, nil)
	if err != nil {
		t.Fatalf("Compile should skip function checks: %v", err)
	}
	if _, err := g.Execute(compiled, nil, nil, nil); err == nil {
		t.Error("expected execute error for undefined helper")
	}
}

func TestGoTemplate_SkipsNonIdentifierHelpers(t *testing.T) {
	got := render(t, NewGoTemplate(), `ok`, map[string]core.Helper{"$odd": upper}, nil)
	if got != "ok" {
		t.Errorf("got %q", got)
	}
}

func TestGoTemplate_Require(t *testing.T) {
	g := NewGoTemplate()
	compiled, err := g.Compile(`{{(require "cfg").name}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Execute(compiled, nil, nil, func(m string) (any, error) {
		return map[string]any{"name": m + "!"}, nil
	})
	if err != nil || out != "cfg!" {
		t.Errorf("out = %q, %v", out, err)
	}
}

func TestNone_Passthrough(t *testing.T) {
	if got := render(t, None{}, `{{ untouched }}`, nil, nil); got != "{{ untouched }}" {
		t.Errorf("got %q", got)
	}
}
