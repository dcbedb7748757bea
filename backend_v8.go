//go:build v8

package nexo

import (
	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/v8engine"
)

func newSandbox(cfg core.EngineConfig) core.Sandbox {
	return v8engine.NewSandbox(cfg)
}
