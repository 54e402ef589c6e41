//go:build !v8

package render

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/quickjs"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Pool.Size = 1
	cfg.Pool.MemoryLimitMB = 64
	cfg.Timeout = 10 * time.Second
	return cfg
}

func newRuntime(t *testing.T, cfg Config, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

const slowUpperJS = `
async function slowUpper(s) {
	await new Promise(function(r) { setTimeout(r, 50); });
	return s.toUpperCase();
}`

func TestRender_HelloWorld(t *testing.T) {
	rt := newRuntime(t, testConfig())
	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: "Hello {{ name }}"},
		Data:     map[string]any{"name": "World"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Hello World" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRender_AsyncJSHelper(t *testing.T) {
	rt := newRuntime(t, testConfig())
	for _, tc := range []struct{ engine, content string }{
		{"pongo2", `{{ slowUpper("abc") }}`},
		{"gotemplate", `{{slowUpper "abc"}}`},
	} {
		res, err := rt.Render(context.Background(), &Request{
			Template: &Entity{Engine: tc.engine, Content: tc.content, Helpers: slowUpperJS},
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.engine, err)
		}
		if res.Content != "ABC" {
			t.Errorf("%s: content = %q", tc.engine, res.Content)
		}
	}
}

func TestRender_SyncAndAsyncHelpersMixed(t *testing.T) {
	rt := newRuntime(t, testConfig())
	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{
			Engine:  "gotemplate",
			Content: `{{range .names}}<{{slowUpper .}}|{{shout .}}>{{end}}`,
			Helpers: slowUpperJS + "\nfunction shout(s) { return s + '!'; }",
		},
		Data: map[string]any{"names": []string{"a", "b", "c"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "<A|a!><B|b!><C|c!>" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRender_CapturesConsole(t *testing.T) {
	rt := newRuntime(t, testConfig())
	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `{{ greet("x") }}`,
			Helpers: `function greet(n) { console.log("greeting", n); console.error({n: n}); return "hi " + n; }`},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, l := range res.Logs {
		got = append(got, l.Level+" "+l.Message)
	}
	if diff := cmp.Diff([]string{"log greeting x", `error {"n":"x"}`}, got); diff != "" {
		t.Errorf("logs mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_HelperSyntaxErrorLine(t *testing.T) {
	rt := newRuntime(t, testConfig())
	_, err := rt.Render(context.Background(), &Request{
		Template:      &Entity{Engine: "pongo2", Content: "x", Helpers: "function ok() {}\nfunction bad( {"},
		SystemHelpers: "function sys() {}\nfunction sys2() {}",
	})
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v", err)
	}
	if e.Line != 2 || e.Property != "helpers" {
		t.Errorf("line/property = %d/%s (%s)", e.Line, e.Property, e.Message)
	}
	if !strings.HasPrefix(e.Message, "Error when evaluating engine pongo2 for template anonymous\n") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestRender_RequireConfiguredModule(t *testing.T) {
	cfg := testConfig()
	cfg.Modules = map[string]string{"money": `exports.format = function(n) { return "$" + n.toFixed(2); };`}
	rt := newRuntime(t, cfg)

	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `{{ price(3) }}`,
			Helpers: `const money = require("money"); function price(n) { return money.format(n); }`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "$3.00" {
		t.Errorf("content = %q", res.Content)
	}

	_, err = rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `x`, Helpers: `const fs = require("fs");`},
	})
	if err == nil || !strings.Contains(err.Error(), "Unsupported module in helpers: fs") {
		t.Errorf("err = %v", err)
	}
}

func TestRender_EngineModuleViaRequire(t *testing.T) {
	rt := newRuntime(t, testConfig())
	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `{{ bold("<x>")|safe }}`,
			Helpers: `function bold(s) { return "<b>" + require("pongo2").escape(s) + "</b>"; }`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "<b>&lt;x&gt;</b>" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRenderPath_ComponentsWithHelpers(t *testing.T) {
	rt := newRuntime(t, testConfig())
	ctx := context.Background()
	s := rt.Store()
	if err := s.Put(ctx, SetComponents, &Entity{ShortID: "row", Name: "row", Folder: "parts", Engine: "gotemplate",
		Content: `[{{up .label}}]`, Helpers: `function up(s) { return String(s).toUpperCase(); }`}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, SetTemplates, &Entity{ShortID: "main", Name: "main", Folder: "reports", Engine: "gotemplate",
		Content: `{{range .rows}}{{component "../parts/row" .}}{{end}}`}); err != nil {
		t.Fatal(err)
	}

	res, err := rt.RenderPath(ctx, "/reports/main", map[string]any{
		"rows": []any{map[string]any{"label": "a"}, map[string]any{"label": "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "[A][B]" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRender_UnknownEngineCreatesNoVM(t *testing.T) {
	var created atomic.Int64
	factory := func(mb int) (core.VM, error) {
		created.Add(1)
		return quickjs.New(mb)
	}
	cfg := testConfig()
	cfg.Pool.Size = 0
	rt := newRuntime(t, cfg, withVMFactory(factory))

	_, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Content: "x"},
		Engine:   "doesNotExist",
	})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindConfiguration || e.StatusCode != 400 {
		t.Fatalf("err = %v", err)
	}
	if n := created.Load(); n != 0 {
		t.Errorf("created %d VMs", n)
	}
}

// upperEngine renders content upper-cased.
type upperEngine struct{}

func (upperEngine) Name() string { return "upper" }

func (upperEngine) Compile(content string, _ Importer) (any, error) {
	return strings.ToUpper(content), nil
}

func (upperEngine) Execute(compiled any, _ map[string]Helper, _ map[string]any, _ Importer) (string, error) {
	return compiled.(string), nil
}

func TestRegisterEngine(t *testing.T) {
	rt := newRuntime(t, testConfig())
	rt.RegisterEngine(upperEngine{})
	res, err := rt.Render(context.Background(), &Request{Template: &Entity{Engine: "upper", Content: "shout"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "SHOUT" {
		t.Errorf("content = %q", res.Content)
	}
	if diff := cmp.Diff([]string{"gotemplate", "none", "pongo2", "upper"}, rt.Engines()); diff != "" {
		t.Errorf("engines mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_TimeoutInterruptsHelper(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 200 * time.Millisecond
	rt := newRuntime(t, cfg)

	_, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `{{ spin() }}`, Helpers: `function spin() { for (;;) {} }`},
	})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindTimeout {
		t.Fatalf("err = %v", err)
	}

	// The interrupted VM was discarded; the runtime keeps working.
	res, err := rt.Render(context.Background(), &Request{Template: &Entity{Engine: "none", Content: "ok"}})
	if err != nil || res.Content != "ok" {
		t.Errorf("after timeout: %v, %v", res, err)
	}
}

func TestWithHelper_EvaluatesNestedContent(t *testing.T) {
	partial := func(ctx context.Context, call Call, args []any) (any, error) {
		ev, ok := EvaluatorFromContext(ctx)
		if !ok {
			return nil, errors.New("no evaluator")
		}
		return ev.Evaluate(ctx, EvalInput{
			Engine:  "gotemplate",
			Content: `({{wrap .who}})`,
			Helpers: `function wrap(s) { return "*" + s + "*"; }`,
			Data:    map[string]any{"who": args[0]},
		}, nil, SetComponents)
	}
	rt := newRuntime(t, testConfig(), WithHelper("partial", partial))

	res, err := rt.Render(context.Background(), &Request{
		Template: &Entity{Engine: "pongo2", Content: `{{ partial("me") }}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "(*me*)" {
		t.Errorf("content = %q", res.Content)
	}
}
