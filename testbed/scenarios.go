package testbed

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/vmsvga3d/engine"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// Scenario is a scripted guest command stream used to exercise a host driver.
type Scenario struct {
	Name        string
	Description string
	Run         func(e *engine.Engine) error
}

var scenarios = map[string]Scenario{
	"cross-context": {
		Name:        "cross-context",
		Description: "renders into a surface on one context and samples it on another",
		Run:         crossContext,
	},
	"mode-change": {
		Name:        "mode-change",
		Description: "fills two contexts with state and content, then resets every device",
		Run:         modeChange,
	},
	"dump": {
		Name:        "dump",
		Description: "clears a render target and dumps it as a bitmap",
		Run:         dump,
	},
}

func Get(name string) (Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q: %w", name, core.ErrInvalidParameter)
	}
	return s, nil
}

// Names lists the scenarios in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func target(w, h uint32) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintTexture | metadata.SurfaceHintRenderTarget,
		Format:   metadata.FormatA8R8G8B8,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: w, Height: h, Depth: 1}},
	}
}

func vertices(size uint32) metadata.SurfaceDescriptor {
	return metadata.SurfaceDescriptor{
		Flags:    metadata.SurfaceHintVertexBuffer,
		Format:   metadata.FormatBuffer,
		Faces:    1,
		MipSizes: []metadata.Size3D{{Width: size, Height: 1, Depth: 1}},
	}
}

// each runs steps in order and stops at the first error.
func each(steps ...func() error) error {
	for i, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func readPixel(e *engine.Engine, sid uint32) (uint32, error) {
	out := make([]byte, 4)
	err := e.SurfaceDMA(metadata.SurfaceImageID{SID: sid}, metadata.GuestImage{Memory: metadata.GuestBytes(out), Pitch: 4},
		metadata.TransferReadHostVRAM, []metadata.CopyBox{{W: 1, H: 1, D: 1}})
	if err != nil {
		return 0, err
	}
	return uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24, nil
}

func crossContext(e *engine.Engine) error {
	const color = 0xff336699
	decls := []metadata.VertexDecl{
		{Type: metadata.DeclTypeFloat3, Usage: metadata.DeclUsagePosition, Array: metadata.ArrayRange{SurfaceID: 20, Stride: 12}},
	}
	ranges := []metadata.PrimitiveRange{
		{Type: metadata.PrimitiveTriangleList, PrimitiveCount: 1, IndexArray: metadata.ArrayRange{SurfaceID: core.InvalidID}},
	}
	err := each(
		func() error { return e.ContextDefine(1) },
		func() error { return e.ContextDefine(2) },
		func() error { return e.SurfaceDefine(10, target(64, 64)) },
		func() error { return e.SurfaceDefine(20, vertices(36)) },
		func() error {
			return e.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 10})
		},
		func() error { return e.Clear(1, metadata.ClearColor, color, 1, 0, nil) },
		func() error { return e.BindTexture(2, 0, 10) },
		func() error { return e.DrawPrimitives(2, decls, ranges) },
	)
	if err != nil {
		return err
	}
	got, err := readPixel(e, 10)
	if err != nil {
		return err
	}
	if got != color {
		return fmt.Errorf("cross-context: pixel 0x%08x, want 0x%08x", got, uint32(color))
	}
	m := e.Metrics()
	core.LogInfo("cross-context: %d shared copies, %d draws, %d flushes", m.SharedCopies, m.Draws, m.Flushes)
	return nil
}

func modeChange(e *engine.Engine) error {
	const color = 0xff00ff00
	err := each(
		func() error { return e.ContextDefine(1) },
		func() error { return e.ContextDefine(2) },
		func() error { return e.SurfaceDefine(10, target(32, 32)) },
		func() error { return e.SurfaceDefine(11, target(32, 32)) },
		func() error {
			return e.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 10})
		},
		func() error {
			return e.SetRenderTarget(2, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 11})
		},
		func() error {
			return e.SetRenderState(1, []metadata.RenderState{{State: metadata.RenderStateZEnable, Value: 1}})
		},
		func() error { return e.SetViewport(2, metadata.Rect{W: 32, H: 32}) },
		func() error { return e.Clear(1, metadata.ClearColor, color, 1, 0, nil) },
		func() error { return e.OnModeChange() },
	)
	if err != nil {
		return err
	}
	got, err := readPixel(e, 10)
	if err != nil {
		return err
	}
	if got != color {
		return fmt.Errorf("mode-change: pixel 0x%08x after reset, want 0x%08x", got, uint32(color))
	}
	core.LogInfo("mode-change: %d resets", e.Metrics().Resets)
	return nil
}

func dump(e *engine.Engine) error {
	done := make(chan error, 1)
	err := each(
		func() error { return e.ContextDefine(1) },
		func() error { return e.SurfaceDefine(10, target(16, 16)) },
		func() error {
			return e.SetRenderTarget(1, metadata.RenderTargetColor0, metadata.SurfaceImageID{SID: 10})
		},
		func() error { return e.Clear(1, metadata.ClearColor, 0xffff0000, 1, 0, nil) },
		func() error {
			return e.DumpSurface(metadata.SurfaceImageID{SID: 10}, func(path string, err error) {
				if err == nil && path != "" {
					core.LogInfo("dump: surface 10 written to %s", path)
				}
				done <- err
			})
		},
	)
	if err != nil {
		return err
	}
	return <-done
}
