package window

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform"
)

// Platform owns the window system. Every glfw call runs on the worker thread.
type Platform struct {
	worker  *platform.Worker
	mutex   sync.Mutex
	windows map[uint32]*glfw.Window
	started bool
}

func New(worker *platform.Worker) *Platform {
	return &Platform{
		worker:  worker,
		windows: make(map[uint32]*glfw.Window),
	}
}

func (p *Platform) Worker() *platform.Worker {
	return p.worker
}

func (p *Platform) Startup(ctx context.Context) error {
	_, err := p.worker.Do(ctx, func() (interface{}, error) {
		if err := glfw.Init(); err != nil {
			core.LogError("failed to initialize glfw: %s", err)
			return nil, err
		}
		glfw.WindowHint(glfw.Visible, glfw.False)
		glfw.WindowHint(glfw.Resizable, glfw.False)
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.
		return nil, nil
	})
	if err != nil {
		return err
	}
	p.mutex.Lock()
	p.started = true
	p.mutex.Unlock()
	return nil
}

// CreateHiddenWindow gives a context the invisible window its device is bound to.
func (p *Platform) CreateHiddenWindow(ctx context.Context, cid uint32, width, height uint32) (*glfw.Window, error) {
	if width == 0 || height == 0 {
		width, height = 4, 4
	}
	window, err := platform.Call(ctx, p.worker, func() (*glfw.Window, error) {
		return glfw.CreateWindow(int(width), int(height), fmt.Sprintf("vmsvga3d context %d", cid), nil, nil)
	})
	if err != nil {
		core.LogError("failed to create window for context %d: %s", cid, err)
		return nil, err
	}
	p.mutex.Lock()
	p.windows[cid] = window
	p.mutex.Unlock()
	return window, nil
}

func (p *Platform) DestroyWindow(ctx context.Context, cid uint32) error {
	p.mutex.Lock()
	window, ok := p.windows[cid]
	delete(p.windows, cid)
	p.mutex.Unlock()
	if !ok {
		return nil
	}
	_, err := p.worker.Do(ctx, func() (interface{}, error) {
		window.Destroy()
		return nil, nil
	})
	return err
}

// VulkanProcAddr returns the loader entry point glfw resolved.
func (p *Platform) VulkanProcAddr(ctx context.Context) (unsafe.Pointer, error) {
	return platform.Call(ctx, p.worker, func() (unsafe.Pointer, error) {
		if !glfw.VulkanSupported() {
			return nil, fmt.Errorf("glfw reports no vulkan loader: %w", core.ErrNotImplemented)
		}
		return glfw.GetVulkanGetInstanceProcAddress(), nil
	})
}

func (p *Platform) Shutdown(ctx context.Context) error {
	p.mutex.Lock()
	started := p.started
	cids := make([]uint32, 0, len(p.windows))
	for cid := range p.windows {
		cids = append(cids, cid)
	}
	p.started = false
	p.mutex.Unlock()

	for _, cid := range cids {
		_ = p.DestroyWindow(ctx, cid)
	}
	if !started {
		return nil
	}
	_, err := p.worker.Do(ctx, func() (interface{}, error) {
		glfw.Terminate()
		return nil, nil
	})
	return err
}
