package systems

import (
	"errors"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// Every device renders to a small hidden surface; guests draw to their own targets.
var defaultDeviceParams = metadata.DeviceParams{Width: 4, Height: 4}

type SystemManager struct {
	Table    *ResourceTable
	Fences   *FenceTracker
	Shared   *SharedSurfaceCache
	Surfaces *SurfaceSystem
	Contexts *ContextSystem
	Resets   *ResetCoordinator
	Dumps    *DumpSystem

	jobSystem *JobSystem
}

func NewSystemManager(cfg *config.Config, driver renderer.HostDriver, metrics *core.Metrics, events *core.EventBus) (*SystemManager, error) {
	table, err := NewResourceTable(ResourceTableConfig{
		GrowBlock:     cfg.Table.GrowBlock,
		MaxContextIDs: cfg.Table.MaxContextIDs,
		MaxSurfaceIDs: cfg.Table.MaxSurfaceIDs,
		MaxShaderIDs:  cfg.Table.MaxShaderIDs,
	})
	if err != nil {
		return nil, err
	}
	fences, err := NewFenceTracker(fenceConfig(cfg), table, driver, metrics)
	if err != nil {
		return nil, err
	}
	shared := NewSharedSurfaceCache(table, driver, fences, metrics)
	surfaces := NewSurfaceSystem(surfaceConfig(cfg), table, driver, fences, shared, metrics, events)
	contexts, err := NewContextSystem(ContextSystemConfig{
		VertexDeclCacheSize: cfg.Surface.VertexDeclCacheSize,
		DeviceParams:        defaultDeviceParams,
	}, table, driver, surfaces, shared, fences, metrics, events)
	if err != nil {
		return nil, err
	}
	js, err := NewJobSystem(max(cfg.Dump.Workers, 1), 16)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		Table:     table,
		Fences:    fences,
		Shared:    shared,
		Surfaces:  surfaces,
		Contexts:  contexts,
		Resets:    NewResetCoordinator(table, driver, surfaces, contexts, metrics, events),
		Dumps:     NewDumpSystem(dumpConfig(cfg), table, surfaces, js, events),
		jobSystem: js,
	}, nil
}

func fenceConfig(cfg *config.Config) FenceTrackerConfig {
	return FenceTrackerConfig{
		PollInterval: cfg.PollInterval(),
		MaxPolls:     cfg.Fence.MaxPolls,
	}
}

func surfaceConfig(cfg *config.Config) SurfaceSystemConfig {
	return SurfaceSystemConfig{
		AllowFallback:      cfg.Surface.AllowFallback,
		DisableYUVReadback: cfg.YUV.DisableReadback,
		DisableYUVUpload:   cfg.YUV.DisableUpload,
	}
}

func dumpConfig(cfg *config.Config) DumpSystemConfig {
	return DumpSystemConfig{
		Enabled: cfg.Dump.Enabled,
		Dir:     cfg.Dump.Dir,
	}
}

// ApplyConfig takes over the settings that may change at runtime. Table
// limits, the backend and the cache sizes keep their start values.
func (sm *SystemManager) ApplyConfig(cfg *config.Config) {
	sm.Fences.Config = fenceConfig(cfg)
	sm.Surfaces.Config = surfaceConfig(cfg)
	sm.Dumps.Config = dumpConfig(cfg)
	core.SetLogLevel(cfg.Log.Level)
}

// Shutdown destroys every context and surface, then waits for pending jobs.
func (sm *SystemManager) Shutdown() error {
	var errs []error
	for _, cid := range sm.Table.ContextIDs() {
		errs = append(errs, sm.Contexts.Destroy(cid))
	}
	for _, sid := range sm.Table.SurfaceIDs() {
		errs = append(errs, sm.Surfaces.Destroy(sid))
	}
	errs = append(errs, sm.jobSystem.Shutdown())
	return errors.Join(errs...)
}
