//go:build v8

package render

import (
	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/v8engine"
)

func newVMFactory() core.VMFactory {
	return v8engine.New
}
