package vulkan

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

func mipLevel(t *testing.T, f metadata.SurfaceFormat, w, h uint32) metadata.MipLevel {
	t.Helper()
	level, err := metadata.NewMipLevel(f, metadata.Size3D{Width: w, Height: h, Depth: 1})
	require.NoError(t, err)
	return level
}

func TestObjectLayoutAlignsSubResources(t *testing.T) {
	l, err := newObjectLayout(metadata.ObjectDesc{
		Kind:   metadata.ObjectKindTexture,
		Format: metadata.FormatA8R8G8B8,
		Faces:  2,
		Sizes:  []metadata.Size3D{{Width: 3, Height: 3, Depth: 1}, {Width: 1, Height: 1, Depth: 1}},
	})
	require.NoError(t, err)

	require.Len(t, l.levels, 4)
	assert.Equal(t, []uint64{0, 48, 64, 112}, l.offsets)
	assert.Equal(t, uint64(128), l.size)
	assert.Equal(t, uint32(12), l.levels[0].Pitch)

	i, err := l.index(2, 2, metadata.SubResource{Face: 1, Mip: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	_, err = l.index(2, 2, metadata.SubResource{Face: 2})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestObjectLayoutRejectsEmptyDescriptions(t *testing.T) {
	_, err := newObjectLayout(metadata.ObjectDesc{Format: metadata.FormatA8R8G8B8, Faces: 1})
	assert.ErrorIs(t, err, core.ErrResourceCreation)

	_, err = newObjectLayout(metadata.ObjectDesc{
		Format: metadata.FormatInvalid,
		Faces:  1,
		Sizes:  []metadata.Size3D{{Width: 1, Height: 1, Depth: 1}},
	})
	assert.ErrorIs(t, err, core.ErrResourceCreation)
}

func TestCopyRegionsOneRegionPerRow(t *testing.T) {
	info, err := metadata.FormatA8R8G8B8.Info()
	require.NoError(t, err)
	level := mipLevel(t, metadata.FormatA8R8G8B8, 4, 4)

	regions := copyRegions(level, 0, metadata.Box{X: 1, Y: 1, W: 2, H: 2, D: 1},
		level, 100, metadata.Box{W: 2, H: 2, D: 1}, info)

	assert.Equal(t, []vk.BufferCopy{
		{SrcOffset: 100, DstOffset: 20, Size: 8},
		{SrcOffset: 116, DstOffset: 36, Size: 8},
	}, regions)

	src := make([]byte, 200)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 64)
	applyRegions(dst, src, regions)
	assert.Equal(t, []byte{100, 101, 102, 103, 104, 105, 106, 107}, dst[20:28])
	assert.Equal(t, []byte{116, 117, 118, 119, 120, 121, 122, 123}, dst[36:44])
	assert.Zero(t, dst[0])
}

func TestCopyRegionsUsesBlocksForCompressedFormats(t *testing.T) {
	info, err := metadata.FormatDXT1.Info()
	require.NoError(t, err)
	level := mipLevel(t, metadata.FormatDXT1, 8, 8)

	regions := copyRegions(level, 0, metadata.Box{X: 4, Y: 4, W: 4, H: 4, D: 1},
		level, 0, metadata.Box{W: 4, H: 4, D: 1}, info)

	require.Len(t, regions, 1)
	assert.Equal(t, vk.DeviceSize(level.Pitch+8), regions[0].DstOffset)
	assert.Equal(t, vk.DeviceSize(8), regions[0].Size)
}

func TestApplyRegionsInsideOneBuffer(t *testing.T) {
	info, err := metadata.FormatA8R8G8B8.Info()
	require.NoError(t, err)
	level := mipLevel(t, metadata.FormatA8R8G8B8, 1, 4)

	data := []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	down := copyRegions(level, 0, metadata.Box{Y: 1, W: 1, H: 3, D: 1}, level, 0, metadata.Box{W: 1, H: 3, D: 1}, info)
	applyRegions(data, data, down)
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, data)

	data = []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	up := copyRegions(level, 0, metadata.Box{W: 1, H: 3, D: 1}, level, 0, metadata.Box{Y: 1, W: 1, H: 3, D: 1}, info)
	applyRegions(data, data, up)
	assert.Equal(t, []byte{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 4, 4, 4, 4}, data)
}

func TestFillRows(t *testing.T) {
	level := mipLevel(t, metadata.FormatA8R8G8B8, 4, 4)

	rows := fillRows(level, 16, 4, nil)
	assert.Equal(t, []fillRegion{{16, 16}, {32, 16}, {48, 16}, {64, 16}}, rows)

	rows = fillRows(level, 16, 4, []metadata.Rect{{X: 3, Y: 3, W: 5, H: 5}, {X: 9, Y: 0, W: 1, H: 1}})
	assert.Equal(t, []fillRegion{{offset: 76, size: 4}}, rows)

	data := make([]byte, 80)
	hostFill(data, rows, []byte{1, 2, 3, 4})
	assert.Equal(t, []byte{1, 2, 3, 4}, data[76:80])
	assert.Zero(t, data[75])
}

func TestColorPixel(t *testing.T) {
	assert.Equal(t, []byte{0xdd, 0xcc, 0xbb, 0xaa}, colorPixel(0xaabbccdd, 4))
	assert.Equal(t, []byte{0xdd, 0xcc}, colorPixel(0xaabbccdd, 2))
	assert.Equal(t, []byte{0xdd}, colorPixel(0xaabbccdd, 1))
	assert.Equal(t, []byte{0xdd, 0xcc, 0xbb, 0xaa, 0xdd, 0xcc, 0xbb, 0xaa}, colorPixel(0xaabbccdd, 8))
}

func TestDepthPixel(t *testing.T) {
	cases := []struct {
		format  metadata.SurfaceFormat
		depth   float32
		stencil uint32
		want    uint32
	}{
		{metadata.FormatZD24S8, 1, 0x12, 0xffffff12},
		{metadata.FormatZD16, 1, 0, 0xffff},
		{metadata.FormatZD16, 2, 0, 0xffff},
		{metadata.FormatZD32, 0, 0, 0},
		{metadata.FormatZD15S1, 0, 1, 1},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s/%v", c.format, c.depth), func(t *testing.T) {
			info, err := c.format.Info()
			require.NoError(t, err)
			out := depthPixel(info, c.depth, c.stencil)
			require.Len(t, out, int(info.BytesPerBlock))
			if len(out) == 2 {
				assert.Equal(t, c.want, uint32(binary.LittleEndian.Uint16(out)))
			} else {
				assert.Equal(t, c.want, binary.LittleEndian.Uint32(out))
			}
		})
	}
}

func TestDownsampleBoxFilter(t *testing.T) {
	src := mipLevel(t, metadata.FormatLuminance8, 2, 2)
	dst := mipLevel(t, metadata.FormatLuminance8, 1, 1)
	out := make([]byte, 1)

	downsample(out, dst, []byte{0, 4, 8, 12}, src, 1)
	assert.Equal(t, byte(6), out[0])
}

func TestDownsampleOddEdge(t *testing.T) {
	src := mipLevel(t, metadata.FormatLuminance8, 3, 1)
	dst := mipLevel(t, metadata.FormatLuminance8, 1, 1)
	out := make([]byte, 1)

	downsample(out, dst, []byte{10, 20, 90}, src, 1)
	assert.Equal(t, byte(15), out[0])
}

func TestByteChannels(t *testing.T) {
	assert.True(t, byteChannels(metadata.FormatA8R8G8B8))
	assert.True(t, byteChannels(metadata.FormatLuminance8))
	assert.False(t, byteChannels(metadata.FormatR5G6B5))
	assert.False(t, byteChannels(metadata.FormatDXT1))
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "noop"))
	assert.ErrorIs(t, resultError(vk.ErrorDeviceLost, "submit"), core.ErrDeviceLost)
	assert.ErrorIs(t, resultError(vk.ErrorOutOfDeviceMemory, "allocate"), core.ErrResourceCreation)
	assert.ErrorIs(t, resultError(vk.Timeout, "wait"), core.ErrFenceTimeout)
	assert.ErrorIs(t, resultError(vk.ErrorFragmentedPool, "pool"), core.ErrUnknown)

	err := resultError(vk.ErrorDeviceLost, "submit")
	assert.Contains(t, err.Error(), "VK_ERROR_DEVICE_LOST")
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success))
	assert.Equal(t, "VkResult(12345)", VulkanResultString(vk.Result(12345)))
}

func TestHandleMapping(t *testing.T) {
	assert.Equal(t, uint64(1), toHandle(0))
	assert.Equal(t, uint32(4), toID(5))
	assert.Equal(t, uint32(core.InvalidID), toID(0))
	assert.Equal(t, uint32(core.InvalidID), toID(handleTableMax+1))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "a\x00", VulkanSafeString("a"))
	assert.Equal(t, "a\x00", VulkanSafeString("a\x00"))

	in := []string{"x", "y\x00"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"x\x00", "y\x00"}, out)
	assert.Equal(t, "x", in[0])

	assert.Equal(t, "ab", cString([]byte{'a', 'b', 0, 'c'}))
	assert.Equal(t, "abc", cString([]byte("abc")))
}

func TestLockPoolSerializes(t *testing.T) {
	pool := NewVulkanLockPool()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(ResourceManagement, func() error {
				return pool.SafeQueueCall(7, func() error {
					counter++
					return nil
				})
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, counter)

	pool.ForgetQueue(7)
	assert.Empty(t, pool.queues)
	assert.ErrorIs(t, pool.SafeCall(InstanceManagement, func() error { return core.ErrUnknown }), core.ErrUnknown)
}

func TestDeviceStateUnbind(t *testing.T) {
	s := newDeviceState(metadata.DeviceParams{Width: 640, Height: 480})
	assert.Equal(t, metadata.Rect{W: 640, H: 480}, s.viewport)
	assert.Equal(t, metadata.ZRange{Min: 0, Max: 1}, s.zRange)

	s.renderTargets[metadata.RenderTargetColor0] = renderTargetBinding{Object: 5}
	s.renderTargets[metadata.RenderTargetDepth] = renderTargetBinding{Object: 6}
	s.textures[2] = 5
	s.unbind(5)

	assert.Equal(t, metadata.ObjectHandle(metadata.NullHandle), s.renderTargets[metadata.RenderTargetColor0].Object)
	assert.Equal(t, metadata.ObjectHandle(6), s.renderTargets[metadata.RenderTargetDepth].Object)
	assert.Equal(t, metadata.ObjectHandle(metadata.NullHandle), s.textures[2])
}

func TestObjectSurvivesReset(t *testing.T) {
	cases := []struct {
		pool  metadata.Pool
		usage metadata.Usage
		want  bool
	}{
		{metadata.PoolDefault, 0, true},
		{metadata.PoolDefault, metadata.UsageRenderTarget, false},
		{metadata.PoolDefault, metadata.UsageDynamic, false},
		{metadata.PoolSystemMem, metadata.UsageRenderTarget, true},
	}
	for _, c := range cases {
		o := &object{desc: metadata.ObjectDesc{Pool: c.pool, Usage: c.usage}}
		assert.Equal(t, c.want, o.survivesReset(), "pool %d usage %d", c.pool, c.usage)
	}
}
