package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/software"
	"github.com/spaghettifunk/vmsvga3d/engine/systems"
)

func newTestEngine(t *testing.T, tweak ...func(cfg *config.Config)) (*Engine, *software.Driver) {
	t.Helper()
	cfg := config.Default()
	cfg.Fence.PollIntervalUS = 0
	cfg.Fence.MaxPolls = 8
	cfg.Dump.Dir = t.TempDir()
	for _, fn := range tweak {
		fn(cfg)
	}
	driver := software.New(software.Config{})
	e, err := New(cfg, driver)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Shutdown()
	})
	return e, driver
}

func texture(w, h uint32) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintTexture | metadata.SurfaceHintRenderTarget,
		Format:   metadata.FormatA8R8G8B8,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: w, Height: h, Depth: 1}},
	}
}

type recordCmd struct {
	name string
	log  *[]string
	err  error
}

func (c recordCmd) Apply(*systems.SystemManager) error {
	*c.log = append(*c.log, c.name)
	return c.err
}

func (c recordCmd) String() string { return c.name }

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Fence.MaxPolls = 0
	_, err := New(cfg, software.New(software.Config{}))
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	_, err = New(config.Default(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestProcessRunsQueuedCommandsInOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	var log []string
	boom := errors.New("boom")
	require.NoError(t, e.Submit(recordCmd{name: "a", log: &log}))
	require.NoError(t, e.Submit(recordCmd{name: "b", log: &log, err: boom}))
	require.NoError(t, e.Submit(recordCmd{name: "c", log: &log}))
	assert.Equal(t, 3, e.Pending())

	err := e.Process()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Zero(t, e.Pending())
	assert.Equal(t, EngineStageInitialized, e.Stage())
}

func TestSubmitFailsWhenQueueIsFull(t *testing.T) {
	e, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Driver.CommandQueueSize = 1
	})
	var log []string
	require.NoError(t, e.Submit(recordCmd{name: "a", log: &log}))
	err := e.Submit(recordCmd{name: "b", log: &log})
	assert.ErrorIs(t, err, containers.ErrQueueFull)
}

func TestLazyCreationUnderFirstContext(t *testing.T) {
	e, driver := newTestEngine(t)
	require.NoError(t, e.ContextDefine(1))
	require.NoError(t, e.SurfaceDefine(7, texture(16, 16)))
	require.NoError(t, e.ContextDefine(2))

	require.NoError(t, e.BindTexture(2, 0, 7))

	s, err := e.Systems().Table.Surface(7)
	require.NoError(t, err)
	c1, err := e.Systems().Table.Context(1)
	require.NoError(t, err)
	dev, _, err := driver.ObjectInfo(s.Object.Handle)
	require.NoError(t, err)
	assert.Equal(t, c1.Device, dev)
	_, shared := s.Shared[2]
	assert.True(t, shared)
}

func TestExecuteResetsAfterDeviceLoss(t *testing.T) {
	e, driver := newTestEngine(t)
	require.NoError(t, e.ContextDefine(1))
	require.NoError(t, e.SurfaceDefine(3, texture(2, 2)))
	require.NoError(t, e.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))
	require.NoError(t, e.SetRenderState(1, []metadata.RenderState{{State: metadata.RenderStateZEnable, Value: 1}}))

	lost := core.InvalidID
	e.Events().Register(core.EVENT_CODE_DEVICE_LOST, t, func(_ core.SystemEventCode, _ interface{}, _ interface{}, ctx core.EventContext) bool {
		lost = ctx.Data.U32[0]
		return true
	})

	c, err := e.Systems().Table.Context(1)
	require.NoError(t, err)
	require.NoError(t, driver.LoseDevice(c.Device))

	err = e.Clear(1, metadata.ClearColor, 0, 1, 0, nil)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Equal(t, uint32(1), lost)
	assert.Equal(t, uint64(1), e.Metrics().Resets)

	require.NoError(t, e.Clear(1, metadata.ClearColor, 0, 1, 0, nil))
	assert.Contains(t, driver.DeviceOps(c.Device), "reset")
}

func TestDeviceLossDuringCreationResets(t *testing.T) {
	e, driver := newTestEngine(t)
	require.NoError(t, e.ContextDefine(1))
	require.NoError(t, e.SurfaceDefine(3, texture(2, 2)))

	c, err := e.Systems().Table.Context(1)
	require.NoError(t, err)
	require.NoError(t, driver.LoseDevice(c.Device))

	err = e.BindTexture(1, 0, 3)
	require.ErrorIs(t, err, core.ErrDeviceLost)
	assert.NotErrorIs(t, err, core.ErrResourceCreation)
	assert.Equal(t, uint64(1), e.Metrics().Resets)
	assert.Zero(t, e.Metrics().DegradedCreations)

	s, err := e.Systems().Table.Surface(3)
	require.NoError(t, err)
	assert.False(t, s.HasObject())

	require.NoError(t, e.BindTexture(1, 0, 3))
	assert.True(t, s.HasObject())
	assert.False(t, s.Degraded)
}

func TestApplyConfigFiresReload(t *testing.T) {
	e, _ := newTestEngine(t)
	var source string
	e.Events().Register(core.EVENT_CODE_CONFIG_RELOADED, t, func(_ core.SystemEventCode, _ interface{}, _ interface{}, ctx core.EventContext) bool {
		source = ctx.Data.C[0]
		return true
	})

	cfg := config.Default()
	cfg.Fence.MaxPolls = 3
	cfg.YUV.DisableReadback = true
	require.NoError(t, e.ApplyConfig(cfg, "test"))
	assert.Equal(t, "test", source)
	assert.Equal(t, uint32(3), e.Systems().Fences.Config.MaxPolls)
	assert.True(t, e.Systems().Surfaces.Config.DisableYUVReadback)

	bad := config.Default()
	bad.Table.GrowBlock = 0
	assert.ErrorIs(t, e.ApplyConfig(bad, "test"), core.ErrInvalidParameter)
	assert.Equal(t, uint32(3), e.Systems().Fences.Config.MaxPolls)
}

func TestWatchedConfigIsAppliedBetweenCommands(t *testing.T) {
	e, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), config.ConfigFile)
	require.NoError(t, config.Save(path, config.Default()))
	require.NoError(t, e.WatchConfig(path))

	updated := config.Default()
	updated.Surface.AllowFallback = false
	require.NoError(t, config.Save(path, updated))

	var log []string
	require.Eventually(t, func() bool {
		_ = e.Execute(recordCmd{name: "noop", log: &log})
		return !e.Systems().Surfaces.Config.AllowFallback
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, e.Config().Surface.AllowFallback)
}

func TestDumpSurfaceThroughEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.SurfaceDefine(3, texture(2, 2)))

	// dumps are off by default
	done := make(chan string, 1)
	require.NoError(t, e.DumpSurface(metadata.SurfaceImageID{SID: 3}, func(path string, err error) {
		assert.NoError(t, err)
		done <- path
	}))
	assert.Empty(t, <-done)
}

func TestShutdownIsFinal(t *testing.T) {
	e, driver := newTestEngine(t)
	require.NoError(t, e.ContextDefine(1))
	require.NoError(t, e.SurfaceDefine(3, texture(2, 2)))
	require.NoError(t, e.BindTexture(1, 0, 3))

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutdown, e.Stage())
	assert.Zero(t, driver.DeviceCount())
	assert.Zero(t, driver.ObjectCount())
	assert.ErrorIs(t, e.ContextDefine(1), core.ErrWorkerClosed)
}
