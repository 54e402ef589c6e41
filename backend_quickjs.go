//go:build !v8

package render

import (
	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/quickjs"
)

func newVMFactory() core.VMFactory {
	return quickjs.New
}
