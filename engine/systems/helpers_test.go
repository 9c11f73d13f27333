package systems

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/software"
)

type fixture struct {
	cfg     *config.Config
	driver  *software.Driver
	metrics *core.Metrics
	events  *core.EventBus
	sm      *SystemManager
}

func newFixture(t *testing.T, tweak ...func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Fence.PollIntervalUS = 0
	cfg.Fence.MaxPolls = 8
	cfg.Dump.Dir = t.TempDir()
	for _, fn := range tweak {
		fn(cfg)
	}
	f := &fixture{
		cfg:     cfg,
		driver:  software.New(software.Config{}),
		metrics: core.NewMetrics(),
		events:  core.NewEventBus(),
	}
	sm, err := NewSystemManager(cfg, f.driver, f.metrics, f.events)
	require.NoError(t, err)
	f.sm = sm
	t.Cleanup(func() {
		_ = sm.Shutdown()
	})
	return f
}

func (f *fixture) defineContexts(t *testing.T, cids ...uint32) {
	t.Helper()
	for _, cid := range cids {
		require.NoError(t, f.sm.Contexts.Define(cid))
	}
}

func (f *fixture) context(t *testing.T, cid uint32) *Context {
	t.Helper()
	c, err := f.sm.Table.Context(cid)
	require.NoError(t, err)
	return c
}

func (f *fixture) surface(t *testing.T, sid uint32) *Surface {
	t.Helper()
	s, err := f.sm.Table.Surface(sid)
	require.NoError(t, err)
	return s
}

func (f *fixture) defineSurface(t *testing.T, sid uint32, desc metadata.SurfaceDescriptor) {
	t.Helper()
	require.NoError(t, f.sm.Surfaces.Define(sid, desc))
}

func textureDesc(w, h uint32, flags metadata.SurfaceFlags) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintTexture | flags,
		Format:   metadata.FormatA8R8G8B8,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: w, Height: h, Depth: 1}},
	}
}

func renderTargetDesc(w, h uint32) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintRenderTarget,
		Format:   metadata.FormatA8R8G8B8,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: w, Height: h, Depth: 1}},
	}
}

func bufferDesc(size uint32, flags metadata.SurfaceFlags) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    flags,
		Format:   metadata.FormatBuffer,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: size, Height: 1, Depth: 1}},
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) ^ seed
	}
	return b
}

func fullBox(w, h uint32) []metadata.CopyBox {
	return []metadata.CopyBox{{W: w, H: h, D: 1}}
}

// upload writes data as the whole first level of sid.
func (f *fixture) upload(t *testing.T, sid uint32, w, h uint32, data []byte) {
	t.Helper()
	guest := metadata.GuestImage{Memory: metadata.GuestBytes(data)}
	err := f.sm.Surfaces.SurfaceDMA(metadata.SurfaceImageID{SID: sid}, guest, metadata.TransferWriteHostVRAM, fullBox(w, h))
	require.NoError(t, err)
}

// download reads size bytes of the first level of sid.
func (f *fixture) download(t *testing.T, sid uint32, w, h uint32, size int) []byte {
	t.Helper()
	out := make([]byte, size)
	guest := metadata.GuestImage{Memory: metadata.GuestBytes(out)}
	err := f.sm.Surfaces.SurfaceDMA(metadata.SurfaceImageID{SID: sid}, guest, metadata.TransferReadHostVRAM, fullBox(w, h))
	require.NoError(t, err)
	return out
}

// stateOps drops copy records, which depend on how many objects were recreated.
func stateOps(ops []string) []string {
	var out []string
	for _, op := range ops {
		if strings.HasPrefix(op, "copy") {
			continue
		}
		out = append(out, op)
	}
	return out
}
