package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

func TestSurfaceDefineRejectsLayeredBuffers(t *testing.T) {
	f := newFixture(t)
	desc := bufferDesc(64, metadata.SurfaceHintVertexBuffer)
	desc.MipSizes = append(desc.MipSizes, metadata.Size3D{Width: 32, Height: 1, Depth: 1})
	err := f.sm.Surfaces.Define(1, desc)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	err = f.sm.Surfaces.Define(core.InvalidID, textureDesc(4, 4, 0))
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestMaterializeSurfaceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 7, textureDesc(16, 16, 0))

	first, err := f.sm.Surfaces.MaterializeSurface(7, 1)
	require.NoError(t, err)
	assert.True(t, first.Created)
	second, err := f.sm.Surfaces.MaterializeSurface(7, 1)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Object, second.Object)
	assert.Equal(t, uint32(1), second.ContextID)
}

func TestMaterializeSurfacePicksObjectKind(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)

	cube := textureDesc(8, 8, metadata.SurfaceCubemap)
	cube.Faces = metadata.MaxSurfaceFaces
	volume := textureDesc(8, 8, 0)
	volume.MipSizes[0].Depth = 4
	depth := metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintDepthStencil,
		Format:   metadata.FormatZD24S8,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: 8, Height: 8, Depth: 1}},
	}

	cases := []struct {
		name string
		desc metadata.SurfaceDescriptor
		kind metadata.ObjectKind
	}{
		{"texture", textureDesc(8, 8, 0), metadata.ObjectKindTexture},
		{"cube", cube, metadata.ObjectKindCubeTexture},
		{"volume", volume, metadata.ObjectKindVolumeTexture},
		{"render target", renderTargetDesc(8, 8), metadata.ObjectKindSurface},
		{"depth stencil", depth, metadata.ObjectKindSurface},
		{"vertex buffer", bufferDesc(64, metadata.SurfaceHintVertexBuffer), metadata.ObjectKindVertexBuffer},
		{"index buffer", bufferDesc(64, metadata.SurfaceHintIndexBuffer), metadata.ObjectKindIndexBuffer},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sid := uint32(10 + i)
			f.defineSurface(t, sid, tc.desc)
			_, err := f.sm.Surfaces.MaterializeSurface(sid, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, f.surface(t, sid).Kind)
		})
	}
}

func TestSurfaceDMARoundTripWithoutObject(t *testing.T) {
	f := newFixture(t)
	f.defineSurface(t, 1, textureDesc(8, 4, 0))

	data := pattern(8*4*4, 0x5a)
	f.upload(t, 1, 8, 4, data)
	assert.True(t, f.surface(t, 1).anyDirty())
	assert.Equal(t, data, f.download(t, 1, 8, 4, len(data)))
}

func TestSurfaceDMARoundTripThroughObject(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 1, textureDesc(8, 4, 0))
	_, err := f.sm.Surfaces.MaterializeSurface(1, 1)
	require.NoError(t, err)
	s := f.surface(t, 1)
	require.True(t, s.HasBounce())
	assert.Nil(t, s.Levels[0][0].Data, "mirror is dropped once the object holds the data")

	data := pattern(8*4*4, 0x11)
	f.upload(t, 1, 8, 4, data)
	assert.Equal(t, data, f.download(t, 1, 8, 4, len(data)))

	content, err := f.driver.ReadObject(s.Object.Handle, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestSurfaceDMAPitchedSubBox(t *testing.T) {
	f := newFixture(t)
	desc := textureDesc(4, 4, 0)
	desc.Format = metadata.FormatLuminance8
	f.defineSurface(t, 1, desc)

	// guest rows are 8 bytes apart, the box lands at (1,1) and reads guest (2,0)
	guest := make([]byte, 32)
	for i := range guest {
		guest[i] = byte(i)
	}
	box := []metadata.CopyBox{{X: 1, Y: 1, W: 2, H: 2, D: 1, SrcX: 2}}
	err := f.sm.Surfaces.SurfaceDMA(metadata.SurfaceImageID{SID: 1}, metadata.GuestImage{Memory: metadata.GuestBytes(guest), Pitch: 8}, metadata.TransferWriteHostVRAM, box)
	require.NoError(t, err)

	expected := []byte{
		0, 0, 0, 0,
		0, 2, 3, 0,
		0, 10, 11, 0,
		0, 0, 0, 0,
	}
	assert.Equal(t, expected, f.surface(t, 1).Levels[0][0].Data)
}

func TestSurfaceDMASkipsDisabledYUVDirections(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.YUV.DisableUpload = true
	})
	desc := textureDesc(4, 2, 0)
	desc.Format = metadata.FormatYUY2
	f.defineSurface(t, 1, desc)

	data := pattern(2*2*4, 0x33)
	f.upload(t, 1, 4, 2, data)
	assert.False(t, f.surface(t, 1).anyDirty())
	assert.Equal(t, make([]byte, len(data)), f.download(t, 1, 4, 2, len(data)))
}

func TestSurfaceCreationFallsBackToLockableUsage(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 3, renderTargetDesc(8, 8))

	degraded := 0
	f.events.Register(core.EVENT_CODE_SURFACE_DEGRADED, t, func(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
		assert.Equal(t, uint32(3), ctx.Data.U32[0])
		assert.Equal(t, uint32(1), ctx.Data.U32[1])
		degraded++
		return true
	})

	f.driver.FailNextCreations(1)
	m, err := f.sm.Surfaces.MaterializeSurface(3, 1)
	require.NoError(t, err)
	assert.True(t, m.Degraded)
	assert.Equal(t, 1, degraded)
	assert.Equal(t, uint64(1), f.metrics.DegradedCreations)

	s := f.surface(t, 3)
	assert.False(t, s.HasBounce())
	_, desc, err := f.driver.ObjectInfo(s.Object.Handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.PoolSystemMem, desc.Pool)
	assert.NotZero(t, desc.Usage&metadata.UsageRenderTarget)

	data := pattern(8*8*4, 0x42)
	f.upload(t, 3, 8, 8, data)
	assert.Equal(t, data, f.download(t, 3, 8, 8, len(data)))
}

func TestSurfaceCreationFailsWithoutFallback(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Surface.AllowFallback = false
	})
	f.defineContexts(t, 1)
	f.defineSurface(t, 3, renderTargetDesc(8, 8))

	f.driver.FailNextCreations(1)
	_, err := f.sm.Surfaces.MaterializeSurface(3, 1)
	assert.ErrorIs(t, err, core.ErrResourceCreation)
	assert.False(t, f.surface(t, 3).HasObject())
}

func TestSurfaceCopyOnMirrors(t *testing.T) {
	f := newFixture(t)
	f.defineSurface(t, 1, textureDesc(4, 4, 0))
	f.defineSurface(t, 2, textureDesc(4, 4, 0))
	data := pattern(4*4*4, 0x01)
	f.upload(t, 1, 4, 4, data)

	err := f.sm.Surfaces.SurfaceCopy(metadata.SurfaceImageID{SID: 2}, metadata.SurfaceImageID{SID: 1}, []metadata.CopyBox{{W: 8, H: 8, D: 1}})
	require.NoError(t, err)
	assert.Equal(t, data, f.download(t, 2, 4, 4, len(data)))
}

func TestSurfaceCopyBetweenObjects(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 1, textureDesc(4, 4, 0))
	f.defineSurface(t, 2, textureDesc(4, 4, 0))
	data := pattern(4*4*4, 0x02)
	f.upload(t, 1, 4, 4, data)
	_, err := f.sm.Surfaces.MaterializeSurface(1, 1)
	require.NoError(t, err)

	// the texture destination follows the source onto its context
	err = f.sm.Surfaces.SurfaceCopy(metadata.SurfaceImageID{SID: 2}, metadata.SurfaceImageID{SID: 1}, fullBox(4, 4))
	require.NoError(t, err)
	dst := f.surface(t, 2)
	require.True(t, dst.HasObject())
	assert.Equal(t, uint32(1), dst.ContextID)
	assert.Equal(t, data, f.download(t, 2, 4, 4, len(data)))
}

func columnRows(values ...byte) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = append(out, v, v, v, v)
	}
	return out
}

func TestSurfaceCopyOverlappingRows(t *testing.T) {
	cases := []struct {
		name        string
		materialize bool
		box         metadata.CopyBox
		want        []byte
	}{
		{"mirror down", false, metadata.CopyBox{Y: 1, W: 1, H: 3, D: 1}, columnRows(1, 1, 2, 3)},
		{"mirror up", false, metadata.CopyBox{W: 1, H: 3, D: 1, SrcY: 1}, columnRows(2, 3, 4, 4)},
		{"object down", true, metadata.CopyBox{Y: 1, W: 1, H: 3, D: 1}, columnRows(1, 1, 2, 3)},
		{"object up", true, metadata.CopyBox{W: 1, H: 3, D: 1, SrcY: 1}, columnRows(2, 3, 4, 4)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.defineContexts(t, 1)
			f.defineSurface(t, 1, textureDesc(1, 4, 0))
			f.upload(t, 1, 1, 4, columnRows(1, 2, 3, 4))
			if c.materialize {
				_, err := f.sm.Surfaces.MaterializeSurface(1, 1)
				require.NoError(t, err)
			}

			img := metadata.SurfaceImageID{SID: 1}
			require.NoError(t, f.sm.Surfaces.SurfaceCopy(img, img, []metadata.CopyBox{c.box}))
			assert.Equal(t, c.want, f.download(t, 1, 1, 4, 16))
		})
	}
}

func TestSurfaceCopyRejectsDifferentLayouts(t *testing.T) {
	f := newFixture(t)
	f.defineSurface(t, 1, textureDesc(4, 4, 0))
	l8 := textureDesc(4, 4, 0)
	l8.Format = metadata.FormatLuminance8
	f.defineSurface(t, 2, l8)

	err := f.sm.Surfaces.SurfaceCopy(metadata.SurfaceImageID{SID: 2}, metadata.SurfaceImageID{SID: 1}, fullBox(4, 4))
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestSurfaceStretchBltScales(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	src := textureDesc(2, 1, 0)
	src.Format = metadata.FormatLuminance8
	dst := textureDesc(4, 1, 0)
	dst.Format = metadata.FormatLuminance8
	f.defineSurface(t, 1, src)
	f.defineSurface(t, 2, dst)
	f.upload(t, 1, 2, 1, []byte{10, 200})

	err := f.sm.Surfaces.SurfaceStretchBlt(
		metadata.SurfaceImageID{SID: 2}, metadata.Box{W: 4, H: 1, D: 1},
		metadata.SurfaceImageID{SID: 1}, metadata.Box{W: 2, H: 1, D: 1},
		metadata.StretchBltPoint)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 10, 200, 200}, f.download(t, 2, 4, 1, 4))
}

func TestSurfaceDestroyUnbindsEverywhere(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	f.defineSurface(t, 1, textureDesc(4, 4, 0))
	require.NoError(t, f.sm.Contexts.BindTexture(1, 3, 1))
	objects := f.driver.ObjectCount()
	require.NotZero(t, objects)

	require.NoError(t, f.sm.Surfaces.Destroy(1))
	assert.Equal(t, core.InvalidID, f.context(t, 1).Snapshot.Textures[3])
	assert.Zero(t, f.driver.ObjectCount())
	_, err := f.sm.Table.Surface(1)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestGenerateMipmaps(t *testing.T) {
	f := newFixture(t)
	f.defineContexts(t, 1)
	desc := textureDesc(4, 4, 0)
	desc.Format = metadata.FormatLuminance8
	desc.MipSizes = append(desc.MipSizes, metadata.Size3D{Width: 2, Height: 2, Depth: 1})
	f.defineSurface(t, 1, desc)
	data := make([]byte, 16)
	for i := range data {
		data[i] = 100
	}
	f.upload(t, 1, 4, 4, data)

	require.NoError(t, f.sm.Surfaces.GenerateMipmaps(1, metadata.TextureFilterLinear))
	out := make([]byte, 4)
	err := f.sm.Surfaces.SurfaceDMA(metadata.SurfaceImageID{SID: 1, Mipmap: 1}, metadata.GuestImage{Memory: metadata.GuestBytes(out)}, metadata.TransferReadHostVRAM, fullBox(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 100, 100, 100}, out)
	assert.Equal(t, metadata.TextureFilterLinear, f.surface(t, 1).Desc.AutogenFilter)
}
