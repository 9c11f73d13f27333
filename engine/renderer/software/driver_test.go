package software

import (
	"testing"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, d *Driver, cid uint32) metadata.DeviceHandle {
	t.Helper()
	dev, err := d.CreateDevice(cid, metadata.DeviceParams{Width: 64, Height: 64})
	require.NoError(t, err)
	return dev
}

func textureDesc(w, h uint32, usage metadata.Usage, pool metadata.Pool) metadata.ObjectDesc {
	return metadata.ObjectDesc{
		Kind:   metadata.ObjectKindTexture,
		Format: metadata.FormatA8R8G8B8,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: w, Height: h, Depth: 1}},
		Usage:  usage,
		Pool:   pool,
	}
}

func writeObject(t *testing.T, d *Driver, obj metadata.ObjectHandle, data []byte) {
	t.Helper()
	m, err := d.Lock(obj, metadata.SubResource{}, metadata.LockWrite)
	require.NoError(t, err)
	copy(m.Data, data)
	require.NoError(t, d.Unlock(obj, metadata.SubResource{}))
}

func TestCreateDeviceOnWorker(t *testing.T) {
	w := platform.NewWorker("software-test")
	defer w.Close()

	d := New(Config{Worker: w})
	dev := newTestDevice(t, d, 1)
	assert.NotEqual(t, metadata.DeviceHandle(metadata.NullHandle), dev)
	assert.Equal(t, 1, d.DeviceCount())

	require.NoError(t, d.DestroyDevice(dev))
	assert.Equal(t, 0, d.DeviceCount())
	assert.ErrorIs(t, d.DestroyDevice(dev), core.ErrInvalidID)
}

func TestRenderTargetNotLockable(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	rt, err := d.CreateTextureObject(dev, textureDesc(4, 4, metadata.UsageRenderTarget, metadata.PoolDefault))
	require.NoError(t, err)
	_, err = d.Lock(rt.Handle, metadata.SubResource{}, metadata.LockRead)
	assert.ErrorIs(t, err, core.ErrNotLockable)

	bounce, err := d.CreateTextureObject(dev, textureDesc(4, 4, metadata.UsageDynamic, metadata.PoolSystemMem))
	require.NoError(t, err)
	m, err := d.Lock(bounce.Handle, metadata.SubResource{}, metadata.LockWrite)
	require.NoError(t, err)
	assert.Len(t, m.Data, 64)
	assert.Equal(t, uint32(16), m.Pitch)

	_, err = d.Lock(bounce.Handle, metadata.SubResource{}, metadata.LockWrite)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	require.NoError(t, d.Unlock(bounce.Handle, metadata.SubResource{}))
}

func TestCopyBetweenObjects(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	src, err := d.CreateTextureObject(dev, textureDesc(2, 2, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	dst, err := d.CreateTextureObject(dev, textureDesc(2, 2, metadata.UsageRenderTarget, metadata.PoolDefault))
	require.NoError(t, err)

	pixels := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	writeObject(t, d, src.Handle, pixels)

	full := metadata.Box{W: 2, H: 2, D: 1}
	require.NoError(t, d.Copy(dev, dst.Handle, metadata.SubResource{}, full, src.Handle, metadata.SubResource{}, full, metadata.FilterNone))

	got, err := d.ReadObject(dst.Handle, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, pixels, got)
}

func TestCopyAcrossDevicesNeedsSharedSource(t *testing.T) {
	d := New(Config{})
	a := newTestDevice(t, d, 1)
	b := newTestDevice(t, d, 2)

	private, err := d.CreateTextureObject(a, textureDesc(2, 2, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	sharedDesc := textureDesc(2, 2, metadata.UsageRenderTarget, metadata.PoolDefault)
	sharedDesc.Shared = true
	shared, err := d.CreateTextureObject(a, sharedDesc)
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(shared.ShareHandle))

	dst, err := d.CreateTextureObject(b, textureDesc(2, 2, metadata.UsageRenderTarget, metadata.PoolDefault))
	require.NoError(t, err)

	full := metadata.Box{W: 2, H: 2, D: 1}
	err = d.Copy(b, dst.Handle, metadata.SubResource{}, full, private.Handle, metadata.SubResource{}, full, metadata.FilterNone)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.NoError(t, d.Copy(b, dst.Handle, metadata.SubResource{}, full, shared.Handle, metadata.SubResource{}, full, metadata.FilterNone))
}

func TestScaledCopy(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	src, err := d.CreateTextureObject(dev, textureDesc(2, 1, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	dst, err := d.CreateTextureObject(dev, textureDesc(4, 2, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	writeObject(t, d, src.Handle, []byte{0, 0, 0, 0, 200, 200, 200, 200})

	srcBox := metadata.Box{W: 2, H: 1, D: 1}
	dstBox := metadata.Box{W: 4, H: 2, D: 1}
	require.NoError(t, d.Copy(dev, dst.Handle, metadata.SubResource{}, dstBox, src.Handle, metadata.SubResource{}, srcBox, metadata.FilterPoint))

	got, err := d.ReadObject(dst.Handle, metadata.SubResource{})
	require.NoError(t, err)
	// first and last pixel of the first row keep the source colours
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(200), got[12])
	// the second row repeats the first
	assert.Equal(t, got[:16], got[16:])

	require.NoError(t, d.Copy(dev, dst.Handle, metadata.SubResource{}, dstBox, src.Handle, metadata.SubResource{}, srcBox, metadata.FilterLinear))
	got, err = d.ReadObject(dst.Handle, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(50), got[4])
	assert.Equal(t, byte(150), got[8])
	assert.Equal(t, byte(200), got[12])
}

func TestResetDropsNonSurvivingObjects(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	rt, err := d.CreateTextureObject(dev, textureDesc(4, 4, metadata.UsageRenderTarget, metadata.PoolDefault))
	require.NoError(t, err)
	sysmem, err := d.CreateTextureObject(dev, textureDesc(4, 4, 0, metadata.PoolSystemMem))
	require.NoError(t, err)

	assert.False(t, d.SurvivesReset(rt.Handle))
	assert.True(t, d.SurvivesReset(sysmem.Handle))

	require.NoError(t, d.LoseDevice(dev))
	_, err = d.Lock(sysmem.Handle, metadata.SubResource{}, metadata.LockRead)
	assert.ErrorIs(t, err, core.ErrDeviceLost)

	require.NoError(t, d.ResetDevice(dev, metadata.DeviceParams{Width: 64, Height: 64}))
	_, err = d.ReadObject(rt.Handle, metadata.SubResource{})
	assert.ErrorIs(t, err, core.ErrInvalidID)
	_, err = d.Lock(sysmem.Handle, metadata.SubResource{}, metadata.LockRead)
	assert.NoError(t, err)
}

func TestFailureInjection(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	d.FailUsage(metadata.UsageRenderTarget)
	_, err := d.CreateTextureObject(dev, textureDesc(4, 4, metadata.UsageRenderTarget, metadata.PoolDefault))
	assert.ErrorIs(t, err, core.ErrResourceCreation)
	_, err = d.CreateTextureObject(dev, textureDesc(4, 4, metadata.UsageDynamic, metadata.PoolDefault))
	assert.NoError(t, err)
	d.FailUsage(0)

	d.FailNextCreations(1)
	_, err = d.CreateTextureObject(dev, textureDesc(4, 4, 0, metadata.PoolSystemMem))
	assert.ErrorIs(t, err, core.ErrResourceCreation)
	_, err = d.CreateTextureObject(dev, textureDesc(4, 4, 0, metadata.PoolSystemMem))
	assert.NoError(t, err)
}

func TestQueryLatency(t *testing.T) {
	d := New(Config{QueryLatency: 3})
	dev := newTestDevice(t, d, 1)

	q, err := d.CreateEventQuery(dev)
	require.NoError(t, err)

	status, err := d.PollQuery(q)
	require.NoError(t, err)
	assert.Equal(t, metadata.QuerySignaled, status)

	require.NoError(t, d.IssueQuery(q))
	for i := 0; i < 2; i++ {
		status, err = d.PollQuery(q)
		require.NoError(t, err)
		assert.Equal(t, metadata.QueryPending, status)
	}
	status, err = d.PollQuery(q)
	require.NoError(t, err)
	assert.Equal(t, metadata.QuerySignaled, status)

	require.NoError(t, d.IssueQuery(q))
	require.NoError(t, d.LoseDevice(dev))
	_, err = d.PollQuery(q)
	assert.ErrorIs(t, err, core.ErrDeviceLost)

	require.NoError(t, d.DestroyQuery(q))
	assert.Equal(t, 0, d.QueryCount())
}

func TestClearFillsRenderTarget(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	rt, err := d.CreateRenderTargetObject(dev, metadata.ObjectDesc{
		Kind:   metadata.ObjectKindSurface,
		Format: metadata.FormatX8R8G8B8,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: 2, Height: 2, Depth: 1}},
		Usage:  metadata.UsageRenderTarget,
	})
	require.NoError(t, err)
	require.NoError(t, d.SetRenderTarget(dev, metadata.RenderTargetColor0, rt.Handle, metadata.SubResource{}))
	require.NoError(t, d.Clear(dev, metadata.ClearColor, 0x11223344, 1, 0, []metadata.Rect{{X: 1, Y: 1, W: 1, H: 1}}))

	got, err := d.ReadObject(rt.Handle, metadata.SubResource{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, got[0:4])
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, got[12:16])
}

func TestRenderTargetSlotChecksFormat(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	colour, err := d.CreateTextureObject(dev, textureDesc(2, 2, metadata.UsageRenderTarget, metadata.PoolDefault))
	require.NoError(t, err)
	err = d.SetRenderTarget(dev, metadata.RenderTargetDepth, colour.Handle, metadata.SubResource{})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	plain, err := d.CreateTextureObject(dev, textureDesc(2, 2, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	err = d.SetRenderTarget(dev, metadata.RenderTargetColor0, plain.Handle, metadata.SubResource{})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestDrawValidatesStreams(t *testing.T) {
	d := New(Config{})
	a := newTestDevice(t, d, 1)
	b := newTestDevice(t, d, 2)

	bufDesc := metadata.ObjectDesc{
		Kind:   metadata.ObjectKindVertexBuffer,
		Format: metadata.FormatBuffer,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: 96, Height: 1, Depth: 1}},
		Pool:   metadata.PoolDefault,
	}
	vbA, err := d.CreateBufferObject(a, bufDesc)
	require.NoError(t, err)
	vbB, err := d.CreateBufferObject(b, bufDesc)
	require.NoError(t, err)

	decl, err := d.CreateVertexDecl(b, []metadata.VertexDecl{{Type: metadata.DeclTypeFloat3, Usage: metadata.DeclUsagePosition}})
	require.NoError(t, err)

	call := metadata.DrawCall{
		Decl:    decl,
		Streams: []metadata.StreamBinding{{Object: vbA.Handle, Stride: 12}},
		Range:   metadata.PrimitiveRange{Type: metadata.PrimitiveTriangleList, PrimitiveCount: 1},
	}
	assert.ErrorIs(t, d.DrawPrimitives(b, call), core.ErrInvalidParameter)

	call.Streams[0].Object = vbB.Handle
	require.NoError(t, d.DrawPrimitives(b, call))
	assert.Equal(t, 1, d.DrawCount(b))
	assert.Contains(t, d.DeviceOps(b), "draw")
}

func TestGenerateMipmaps(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	desc := textureDesc(2, 2, 0, metadata.PoolSystemMem)
	desc.Sizes = append(desc.Sizes, metadata.Size3D{Width: 1, Height: 1, Depth: 1})
	tex, err := d.CreateTextureObject(dev, desc)
	require.NoError(t, err)

	// four pixels where every channel averages to 100
	writeObject(t, d, tex.Handle, []byte{
		0, 0, 0, 0, 200, 200, 200, 200,
		200, 200, 200, 200, 0, 0, 0, 0,
	})
	require.NoError(t, d.GenerateMipmaps(dev, tex.Handle, metadata.TextureFilterLinear))

	got, err := d.ReadObject(tex.Handle, metadata.SubResource{Mip: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 100, 100, 100}, got)
}

func TestDestroyDeviceReleasesObjects(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)
	_, err := d.CreateTextureObject(dev, textureDesc(2, 2, 0, metadata.PoolSystemMem))
	require.NoError(t, err)
	_, err = d.CreateShader(dev, metadata.ShaderTypeVertex, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	require.NoError(t, d.DestroyDevice(dev))
	assert.Equal(t, 0, d.ObjectCount())
}

func TestCreateOnLostDeviceFails(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)
	require.NoError(t, d.LoseDevice(dev))

	_, err := d.CreateTextureObject(dev, textureDesc(4, 4, 0, metadata.PoolSystemMem))
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Equal(t, 0, d.ObjectCount())

	require.NoError(t, d.ResetDevice(dev, metadata.DeviceParams{Width: 64, Height: 64}))
	_, err = d.CreateTextureObject(dev, textureDesc(4, 4, 0, metadata.PoolSystemMem))
	assert.NoError(t, err)
}

func TestDestroyedHandleDoesNotAliasReusedSlot(t *testing.T) {
	d := New(Config{})
	dev := newTestDevice(t, d, 1)

	vb, err := d.CreateBufferObject(dev, metadata.ObjectDesc{
		Kind:   metadata.ObjectKindVertexBuffer,
		Format: metadata.FormatBuffer,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: 16, Height: 1, Depth: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, d.DestroyObject(vb.Handle))

	ib, err := d.CreateBufferObject(dev, metadata.ObjectDesc{
		Kind:   metadata.ObjectKindIndexBuffer,
		Format: metadata.FormatBuffer,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: 16, Height: 1, Depth: 1}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, vb.Handle, ib.Handle)

	_, _, err = d.ObjectInfo(vb.Handle)
	assert.ErrorIs(t, err, core.ErrInvalidID)
	assert.ErrorIs(t, d.DestroyObject(vb.Handle), core.ErrInvalidID)

	_, desc, err := d.ObjectInfo(ib.Handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.ObjectKindIndexBuffer, desc.Kind)
}
