package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

func TestContextDefineCreatesDevice(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	assert.Equal(t, 2, f.driver.DeviceCount())

	// redefining replaces the device and forgets the recorded state
	require.NoError(t, f.sm.Contexts.SetViewport(1, metadata.Rect{W: 2, H: 2}))
	f.defineContexts(t, 1)
	assert.Equal(t, 2, f.driver.DeviceCount())
	assert.False(t, f.context(t, 1).Snapshot.Dirty.Has(StateViewport))

	err := f.sm.Contexts.Define(f.cfg.Table.MaxContextIDs)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestBindTextureMaterializesOnHomeContext(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 5, textureDesc(256, 256, metadata.SurfaceHintRenderTarget))
	f.defineContexts(t, 2)

	require.NoError(t, f.sm.Contexts.BindTexture(2, 0, 5))

	s := f.surface(t, 5)
	require.True(t, s.HasObject())
	assert.Equal(t, uint32(1), s.ContextID)
	dev, _, err := f.driver.ObjectInfo(s.Object.Handle)
	require.NoError(t, err)
	assert.Equal(t, f.context(t, 1).Device, dev)

	entry, ok := f.sm.Shared.Entry(s, 2)
	require.True(t, ok)
	assert.NotEqual(t, s.Object.Handle, entry.Object.Handle)
	assert.Equal(t, uint32(5), f.context(t, 2).Snapshot.Textures[0])
}

func TestSharedDuplicateMatchesLastWrite(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 5, textureDesc(8, 8, 0))
	_, err := f.sm.Surfaces.MaterializeSurface(5, 1)
	require.NoError(t, err)
	s := f.surface(t, 5)

	first := pattern(8*8*4, 0x10)
	f.upload(t, 5, 8, 8, first)
	dup, err := f.sm.Shared.Get(s, 2)
	require.NoError(t, err)
	content, err := f.driver.ReadObject(dup, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, first, content)

	second := pattern(8*8*4, 0x20)
	f.upload(t, 5, 8, 8, second)
	again, err := f.sm.Shared.Get(s, 2)
	require.NoError(t, err)
	assert.Equal(t, dup, again)
	content, err = f.driver.ReadObject(again, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, second, content)
	assert.Nil(t, s.Fence, "the copy is waited for")
}

func TestFenceDiscipline(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 5, textureDesc(8, 8, 0))
	require.NoError(t, f.sm.Contexts.BindTexture(2, 0, 5))
	s := f.surface(t, 5)
	f.driver.SetQueryLatency(3)

	polls := f.metrics.FencePolls
	require.NoError(t, f.sm.Fences.TrackUsage(s, 1))
	require.NoError(t, f.sm.Fences.TrackUsage(s, 1))
	assert.Equal(t, polls, f.metrics.FencePolls, "same context usage never waits")
	assert.Zero(t, f.metrics.DefensiveFlushes)

	require.NoError(t, f.sm.Fences.TrackUsage(s, 2))
	assert.Equal(t, uint64(1), f.metrics.DefensiveFlushes)
	require.NotNil(t, s.Fence)
	assert.Equal(t, uint32(2), s.Fence.ContextID)
}

func TestFenceFlushTimesOut(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Fence.MaxPolls = 4
	})
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 5, textureDesc(8, 8, 0))
	require.NoError(t, f.sm.Contexts.BindTexture(2, 0, 5))
	s := f.surface(t, 5)

	f.driver.SetQueryLatency(100)
	require.NoError(t, f.sm.Fences.Issue(s, 1))
	err := f.sm.Fences.Flush(s)
	assert.ErrorIs(t, err, core.ErrFenceTimeout)
	assert.Equal(t, uint64(1), f.metrics.FenceTimeouts)
	assert.Nil(t, s.Fence)
}

func TestContextDestroyReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 5, textureDesc(8, 8, 0))
	f.defineSurface(t, 6, textureDesc(8, 8, metadata.SurfaceHintRenderTarget))
	require.NoError(t, f.sm.Contexts.BindTexture(2, 0, 5))
	// surface 6 lives on context 2 and is sampled by context 1
	require.NoError(t, f.sm.Contexts.SetRenderTarget(2, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 6}))
	require.NoError(t, f.sm.Contexts.BindTexture(1, 0, 6))
	_, ok := f.surface(t, 6).Shared[1]
	require.True(t, ok)

	destroyed := core.InvalidID
	f.events.Register(core.EVENT_CODE_CONTEXT_DESTROYED, t, func(_ core.SystemEventCode, _ interface{}, _ interface{}, ctx core.EventContext) bool {
		destroyed = ctx.Data.U32[0]
		return true
	})

	queries := f.driver.QueryCount()
	require.NoError(t, f.sm.Contexts.Destroy(1))
	assert.Equal(t, uint32(1), destroyed)

	f.sm.Table.EachSurface(func(s *Surface) bool {
		assert.NotEqual(t, uint32(1), s.ContextID, "surface %d", s.ID)
		_, ok := s.Shared[1]
		assert.False(t, ok, "surface %d keeps a duplicate for the destroyed context", s.ID)
		return true
	})
	assert.LessOrEqual(t, f.driver.QueryCount(), queries)
	assert.Equal(t, 1, f.driver.DeviceCount())
	assert.False(t, f.sm.Table.HasContext(1))
}

func TestContextDestroyKeepsDirtySurfaceDefined(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 9, bufferDesc(64, metadata.SurfaceHintVertexBuffer))
	_, err := f.sm.Surfaces.MaterializeSurface(9, 1)
	require.NoError(t, err)
	f.upload(t, 9, 64, 1, pattern(64, 0x77))
	require.True(t, f.surface(t, 9).anyDirty())

	require.NoError(t, f.sm.Contexts.Destroy(1))

	s := f.surface(t, 9)
	assert.False(t, s.HasObject())
	assert.Equal(t, core.InvalidID, s.ContextID)
	level := s.Levels[0][0]
	assert.Len(t, level.Data, 64)
	assert.False(t, level.Dirty)

	// ready for redefinition
	f.defineSurface(t, 9, textureDesc(4, 4, 0))
	assert.Equal(t, metadata.FormatA8R8G8B8, f.surface(t, 9).Desc.Format)
}

func TestSetRenderTargetMigratesSurface(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 3, renderTargetDesc(4, 4))
	data := pattern(4*4*4, 0x66)
	f.upload(t, 3, 4, 4, data)

	require.NoError(t, f.sm.Contexts.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))
	assert.Equal(t, uint32(1), f.surface(t, 3).ContextID)

	require.NoError(t, f.sm.Contexts.SetRenderTarget(2, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))
	s := f.surface(t, 3)
	assert.Equal(t, uint32(2), s.ContextID)
	dev, _, err := f.driver.ObjectInfo(s.Object.Handle)
	require.NoError(t, err)
	assert.Equal(t, f.context(t, 2).Device, dev)
	assert.Equal(t, data, f.download(t, 3, 4, 4, len(data)))

	err = f.sm.Contexts.SetRenderTarget(2, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3, Mipmap: 4})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestSetRenderTargetReappliesViewState(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 3, renderTargetDesc(4, 4))
	require.NoError(t, f.sm.Contexts.SetViewport(1, metadata.Rect{W: 2, H: 2}))

	dev := f.context(t, 1).Device
	f.driver.ClearDeviceOps(dev)
	require.NoError(t, f.sm.Contexts.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))
	assert.Equal(t, []string{"rendertarget 2", "viewport"}, stateOps(f.driver.DeviceOps(dev)))
}

func TestSetTextureStateRoutesBindTexture(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 4, textureDesc(4, 4, 0))

	err := f.sm.Contexts.SetTextureState(1, []metadata.TextureState{
		{Stage: 1, Name: metadata.TextureStateBindTexture, Value: 4},
		{Stage: 1, Name: metadata.TextureStateMagFilter, Value: uint32(metadata.TextureFilterLinear)},
	})
	require.NoError(t, err)
	snap := f.context(t, 1).Snapshot
	assert.Equal(t, uint32(4), snap.Textures[1])
	assert.Equal(t, uint32(metadata.TextureFilterLinear), snap.TextureStates[1][metadata.TextureStateMagFilter])
	_, recorded := snap.TextureStates[1][metadata.TextureStateBindTexture]
	assert.False(t, recorded)

	require.NoError(t, f.sm.Contexts.BindTexture(1, 1, core.InvalidID))
	assert.Equal(t, core.InvalidID, f.context(t, 1).Snapshot.Textures[1])
}

func TestStateSettersValidate(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	assert.ErrorIs(t, f.sm.Contexts.SetLightData(1, metadata.MaxLights, metadata.LightData{}), core.ErrInvalidParameter)
	assert.ErrorIs(t, f.sm.Contexts.SetClipPlane(1, metadata.MaxClipPlanes, metadata.ClipPlane{}), core.ErrInvalidParameter)
	assert.ErrorIs(t, f.sm.Contexts.BindTexture(1, metadata.MaxSamplers, 0), core.ErrInvalidParameter)
	assert.ErrorIs(t, f.sm.Contexts.SetRenderState(7, nil), core.ErrInvalidID)

	// a rejected state leaves the snapshot untouched
	err := f.sm.Contexts.SetRenderState(1, []metadata.RenderState{{State: metadata.RenderStateMax, Value: 1}})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.Empty(t, f.context(t, 1).Snapshot.RenderStates)
}

func TestShaderLifecycle(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	code := []byte{1, 2, 3, 4}

	require.NoError(t, f.sm.Contexts.ShaderDefine(1, 3, metadata.ShaderTypeVertex, code))
	require.NoError(t, f.sm.Contexts.ShaderSet(1, metadata.ShaderTypeVertex, 3))
	assert.Equal(t, uint32(3), f.context(t, 1).Snapshot.Shaders[metadata.ShaderTypeVertex])

	err := f.sm.Contexts.ShaderSet(1, metadata.ShaderTypePixel, 3)
	assert.ErrorIs(t, err, core.ErrInvalidID)
	err = f.sm.Contexts.ShaderDefine(1, 4, metadata.ShaderTypePixel, []byte{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	require.NoError(t, f.sm.Contexts.SetShaderConst(1, metadata.ShaderTypeVertex, metadata.ShaderConst{Register: 2, Values: [4]uint32{1, 2, 3, 4}}))
	assert.Equal(t, [4]uint32{1, 2, 3, 4}, f.context(t, 1).Snapshot.ShaderConsts[metadata.ShaderTypeVertex][2].Values)

	require.NoError(t, f.sm.Contexts.ShaderDestroy(1, 3, metadata.ShaderTypeVertex))
	assert.Equal(t, core.InvalidID, f.context(t, 1).Snapshot.Shaders[metadata.ShaderTypeVertex])
	_, err = f.context(t, 1).Shader(metadata.ShaderTypeVertex, 3)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func triangleDecls(sid uint32) []metadata.VertexDecl {
	return []metadata.VertexDecl{
		{Type: metadata.DeclTypeFloat3, Usage: metadata.DeclUsagePosition, Array: metadata.ArrayRange{SurfaceID: sid, Stride: 20}},
		{Type: metadata.DeclTypeFloat2, Usage: metadata.DeclUsageTexCoord, Array: metadata.ArrayRange{SurfaceID: sid, Offset: 12, Stride: 20}},
	}
}

func TestDrawPrimitives(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 10, bufferDesc(60, metadata.SurfaceHintVertexBuffer))
	f.defineSurface(t, 11, bufferDesc(6, metadata.SurfaceHintIndexBuffer))
	f.defineSurface(t, 3, renderTargetDesc(4, 4))
	require.NoError(t, f.sm.Contexts.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))

	ranges := []metadata.PrimitiveRange{
		{Type: metadata.PrimitiveTriangleList, PrimitiveCount: 1, IndexArray: metadata.ArrayRange{SurfaceID: core.InvalidID}},
		{Type: metadata.PrimitiveTriangleList, PrimitiveCount: 1, IndexArray: metadata.ArrayRange{SurfaceID: 11}, IndexWidth: 2},
	}
	require.NoError(t, f.sm.Contexts.DrawPrimitives(1, triangleDecls(10), ranges))
	require.NoError(t, f.sm.Contexts.DrawPrimitives(1, triangleDecls(10), ranges[:1]))

	c := f.context(t, 1)
	assert.Equal(t, 3, f.driver.DrawCount(c.Device))
	assert.Equal(t, uint64(3), f.metrics.Draws)
	assert.Equal(t, 1, c.Decls.Len(), "one declaration for one element list")
	assert.Equal(t, metadata.ObjectKindVertexBuffer, f.surface(t, 10).Kind)
	assert.Equal(t, metadata.ObjectKindIndexBuffer, f.surface(t, 11).Kind)

	err := f.sm.Contexts.DrawPrimitives(1, triangleDecls(3), ranges[:1])
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestMigratedRenderTargetStartsClean(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 6, textureDesc(8, 8, metadata.SurfaceHintRenderTarget))
	require.NoError(t, f.sm.Contexts.SetRenderTarget(2, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 6}))
	require.NoError(t, f.sm.Contexts.BindTexture(1, 0, 6))
	s := f.surface(t, 6)
	require.NoError(t, f.sm.Fences.Issue(s, 1))
	require.Len(t, s.Shared, 1)
	objects, queries := f.driver.ObjectCount(), f.driver.QueryCount()

	require.NoError(t, f.sm.Contexts.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 6}))
	assert.Equal(t, uint32(1), s.ContextID)
	assert.Empty(t, s.Shared)
	assert.Nil(t, s.Fence)
	assert.Equal(t, objects-1, f.driver.ObjectCount(), "the old object and its duplicate are gone")
	assert.Equal(t, queries-1, f.driver.QueryCount())
}

func TestDrawRetargetsBuffers(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1, 2)
	f.defineSurface(t, 10, bufferDesc(60, metadata.SurfaceHintVertexBuffer))
	data := pattern(60, 0x09)
	f.upload(t, 10, 60, 1, data)

	ranges := []metadata.PrimitiveRange{{Type: metadata.PrimitiveTriangleList, PrimitiveCount: 1, IndexArray: metadata.ArrayRange{SurfaceID: core.InvalidID}}}
	require.NoError(t, f.sm.Contexts.DrawPrimitives(1, triangleDecls(10), ranges))
	assert.Equal(t, uint32(1), f.surface(t, 10).ContextID)

	require.NoError(t, f.sm.Contexts.DrawPrimitives(2, triangleDecls(10), ranges))
	s := f.surface(t, 10)
	assert.Equal(t, uint32(2), s.ContextID)
	content, err := f.driver.ReadObject(s.Object.Handle, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, data, content)

	// the same buffer used for indices is recreated as an index buffer
	ranges[0].IndexArray = metadata.ArrayRange{SurfaceID: 10}
	ranges[0].IndexWidth = 2
	f.defineSurface(t, 12, bufferDesc(60, metadata.SurfaceHintVertexBuffer))
	require.NoError(t, f.sm.Contexts.DrawPrimitives(2, triangleDecls(12), ranges))
	assert.Equal(t, metadata.ObjectKindIndexBuffer, f.surface(t, 10).Kind)
}

func TestDrawRejectsBufferAsVertexAndIndex(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 10, bufferDesc(60, metadata.SurfaceHintVertexBuffer))
	f.upload(t, 10, 60, 1, pattern(60, 0x03))

	ranges := []metadata.PrimitiveRange{{
		Type:           metadata.PrimitiveTriangleList,
		PrimitiveCount: 1,
		IndexArray:     metadata.ArrayRange{SurfaceID: 10},
		IndexWidth:     2,
	}}
	err := f.sm.Contexts.DrawPrimitives(1, triangleDecls(10), ranges)
	require.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.Equal(t, 0, f.driver.DrawCount(f.context(t, 1).Device))
}

func TestClearFillsRenderTarget(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 3, renderTargetDesc(2, 2))
	require.NoError(t, f.sm.Contexts.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 3}))

	require.NoError(t, f.sm.Contexts.Clear(1, metadata.ClearColor, 0x11223344, 1, 0, nil))
	out := f.download(t, 3, 2, 2, 16)
	for px := 0; px < 4; px++ {
		assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, out[px*4:px*4+4])
	}
}
