// Package host selects and starts the host driver. It is the only package
// linking the cgo backed vulkan and window packages.
package host

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine"
	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform"
	"github.com/spaghettifunk/vmsvga3d/engine/platform/window"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/software"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Software RendererType = iota
	Vulkan
)

func ParseRendererType(name string) (RendererType, error) {
	switch name {
	case config.BackendSoftware:
		return Software, nil
	case config.BackendVulkan:
		return Vulkan, nil
	}
	return Software, fmt.Errorf("unknown host driver %q: %w", name, core.ErrInvalidParameter)
}

func (t RendererType) String() string {
	if t == Vulkan {
		return config.BackendVulkan
	}
	return config.BackendSoftware
}

/**
 * @brief Creates the host driver named by the configuration. The vulkan driver
 * starts the window system on the worker thread first.
 */
func NewDriver(ctx context.Context, cfg *config.Config, worker *platform.Worker) (renderer.HostDriver, error) {
	kind, err := ParseRendererType(cfg.Driver.Backend)
	if err != nil {
		return nil, err
	}
	core.LogInfo("selecting %s host driver", kind)

	switch kind {
	case Vulkan:
		win := window.New(worker)
		if err := win.Startup(ctx); err != nil {
			return nil, err
		}
		procAddr, err := win.VulkanProcAddr(ctx)
		if err != nil {
			_ = win.Shutdown(ctx)
			return nil, err
		}
		drv, err := vulkan.New(vulkan.Config{
			AppName:  cfg.Driver.AppName,
			Debug:    cfg.Driver.Debug,
			ProcAddr: procAddr,
			Windows:  win,
		})
		if err != nil {
			_ = win.Shutdown(ctx)
			return nil, err
		}
		return drv, nil
	default:
		return software.New(software.Config{Worker: worker}), nil
	}
}

/**
 * @brief Starts the platform worker, creates the host driver named by the
 * configuration and the engine on top of it. The engine owns the worker.
 */
func Boot(ctx context.Context, cfg *config.Config) (*engine.Engine, error) {
	worker := platform.NewWorker("host-driver")
	driver, err := NewDriver(ctx, cfg, worker)
	if err != nil {
		_ = worker.Close()
		return nil, err
	}
	e, err := engine.New(cfg, driver, engine.WithWorker(worker))
	if err != nil {
		_ = driver.Shutdown()
		_ = worker.Close()
		return nil, err
	}
	return e, nil
}
