package core

// Importer resolves a module the same way require() does inside helper code.
type Importer func(module string) (any, error)

// Engine translates one template syntax into compiled handles and output.
// Compiled handles are shared between concurrent renders and must not be
// mutated by Execute.
type Engine interface {
	Name() string
	Compile(content string, imp Importer) (any, error)
	Execute(compiled any, helpers map[string]Helper, data map[string]any, imp Importer) (string, error)
}

// ContextCreator is implemented by engines that seed the helper program
// with globals.
type ContextCreator interface {
	CreateContext() map[string]any
}

// RequireHandler is implemented by engines that provide modules to helper
// code. It returns CommonJS source for module, or false to fall through.
type RequireHandler interface {
	OnRequire(module string, seed map[string]any) (source string, ok bool)
}
