//go:build !v8

package nexo

import (
	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/quickjs"
)

func newSandbox(cfg core.EngineConfig) core.Sandbox {
	return quickjs.NewSandbox(cfg)
}
