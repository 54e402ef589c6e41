package engines

import "github.com/cryguy/render/internal/core"

// None passes content through untouched.
type None struct{}

func (None) Name() string { return "none" }

func (None) Compile(content string, _ core.Importer) (any, error) {
	return content, nil
}

func (None) Execute(compiled any, _ map[string]core.Helper, _ map[string]any, _ core.Importer) (string, error) {
	s, _ := compiled.(string)
	return s, nil
}
