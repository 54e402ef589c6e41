package engines

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/cryguy/render/internal/core"
)

const rootTemplate = "content"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GoTemplate renders Go text/template syntax. Helpers are bound as template
// functions per execution, so templates are parsed without a function check
// and the parsed tree is cloned for every render.
type GoTemplate struct{}

// NewGoTemplate creates the adapter.
func NewGoTemplate() *GoTemplate { return &GoTemplate{} }

func (*GoTemplate) Name() string { return "gotemplate" }

func (*GoTemplate) Compile(content string, _ core.Importer) (any, error) {
	trees := make(map[string]*parse.Tree)
	t := parse.New(rootTemplate)
	t.Mode = parse.SkipFuncCheck
	if _, err := t.Parse(content, "", "", trees); err != nil {
		return nil, err
	}
	if _, ok := trees[rootTemplate]; !ok {
		trees[rootTemplate] = t
	}
	tmpl := template.New(rootTemplate)
	for name, tree := range trees {
		if _, err := tmpl.AddParseTree(name, tree); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func (*GoTemplate) Execute(compiled any, helpers map[string]core.Helper, data map[string]any, imp core.Importer) (string, error) {
	base, ok := compiled.(*template.Template)
	if !ok {
		return "", fmt.Errorf("gotemplate: unexpected compiled handle %T", compiled)
	}
	tmpl, err := base.Clone()
	if err != nil {
		return "", err
	}
	funcs := template.FuncMap{}
	if imp != nil {
		funcs["require"] = func(module string) (any, error) { return imp(module) }
	}
	for name, h := range helpers {
		// Helper names follow JS rules; $ is not valid in a Go template identifier.
		if identRe.MatchString(name) {
			funcs[name] = h
		}
	}
	tmpl.Funcs(funcs)

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, rootTemplate, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (g *GoTemplate) CreateContext() map[string]any {
	return map[string]any{"templateEngine": g.Name()}
}
