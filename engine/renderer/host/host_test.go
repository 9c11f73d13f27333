package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine"
	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

func TestParseRendererType(t *testing.T) {
	kind, err := ParseRendererType(config.BackendVulkan)
	require.NoError(t, err)
	assert.Equal(t, Vulkan, kind)
	assert.Equal(t, config.BackendVulkan, kind.String())

	kind, err = ParseRendererType(config.BackendSoftware)
	require.NoError(t, err)
	assert.Equal(t, Software, kind)

	_, err = ParseRendererType("directx")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestBootSoftwareDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver.Backend = config.BackendSoftware

	e, err := Boot(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.EngineStageInitialized, e.Stage())
	require.NoError(t, e.Execute(engine.ContextDefineCmd{CID: 1}))
	assert.NoError(t, e.Shutdown())
	assert.Equal(t, engine.EngineStageShutdown, e.Stage())
}

func TestBootRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver.Backend = "directx"

	_, err := Boot(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}
