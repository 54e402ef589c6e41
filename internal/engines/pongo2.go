package engines

import (
	"fmt"
	"io"
	"strconv"

	"github.com/flosch/pongo2/v6"

	"github.com/cryguy/render/internal/core"
)

// Pongo2 renders Django/Jinja style templates. Helpers and require are
// exposed as callables in the template context: {{ upper(name) }}.
type Pongo2 struct {
	set *pongo2.TemplateSet
}

// NewPongo2 creates the adapter with its own template set.
func NewPongo2() *Pongo2 {
	return &Pongo2{set: pongo2.NewSet("render", noIncludeLoader{})}
}

func (*Pongo2) Name() string { return "pongo2" }

func (p *Pongo2) Compile(content string, _ core.Importer) (any, error) {
	return p.set.FromString(content)
}

func (p *Pongo2) Execute(compiled any, helpers map[string]core.Helper, data map[string]any, imp core.Importer) (string, error) {
	tpl, ok := compiled.(*pongo2.Template)
	if !ok {
		return "", fmt.Errorf("pongo2: unexpected compiled handle %T", compiled)
	}
	ctx := make(pongo2.Context, len(data)+len(helpers)+1)
	for k, v := range data {
		ctx[k] = v
	}
	if imp != nil {
		ctx["require"] = pongo2Func(func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("require expects one module name")
			}
			return imp(fmt.Sprint(args[0]))
		})
	}
	for name, h := range helpers {
		ctx[name] = pongo2Func(h)
	}
	return tpl.Execute(ctx)
}

// pongo2Func adapts a helper to pongo2's calling convention. Results are
// returned as *pongo2.Value so pongo2 does not have to unwrap an interface.
func pongo2Func(h core.Helper) func(args ...*pongo2.Value) (*pongo2.Value, error) {
	return func(args ...*pongo2.Value) (*pongo2.Value, error) {
		in := make([]any, len(args))
		for i, a := range args {
			if a != nil && !a.IsNil() {
				in[i] = a.Interface()
			}
		}
		v, err := h(in...)
		if err != nil {
			return nil, err
		}
		return pongo2.AsValue(v), nil
	}
}

// CreateContext tells helper code which engine runs it.
func (p *Pongo2) CreateContext() map[string]any {
	return map[string]any{"templateEngine": p.Name()}
}

// pongo2JS is the module helpers get from require("pongo2"). Output of
// helpers is autoescaped unless piped through |safe.
const pongo2JS = `
var map = { '&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;', "'": '&#39;' };
module.exports = {
	engine: %s,
	escape: function(s) { return String(s).replace(/[&<>"']/g, function(c) { return map[c]; }); }
};
`

func (p *Pongo2) OnRequire(module string, seed map[string]any) (string, bool) {
	if module != "pongo2" {
		return "", false
	}
	name, _ := seed["templateEngine"].(string)
	if name == "" {
		name = p.Name()
	}
	return fmt.Sprintf(pongo2JS, strconv.Quote(name)), true
}

// noIncludeLoader rejects {% include %} and {% extends %}; templates
// compose through the component helper instead.
type noIncludeLoader struct{}

func (noIncludeLoader) Abs(_, name string) string { return name }

func (noIncludeLoader) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("template %q: includes are not supported, use the component helper", path)
}
