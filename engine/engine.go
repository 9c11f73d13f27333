package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
	"github.com/spaghettifunk/vmsvga3d/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine completed boot and accepts commands
	EngineStageInitialized
	// Engine is executing queued commands
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every resource
	EngineStageShutdown
)

/**
 * @brief The command executor. Every operation on the device goes through it,
 * either directly or queued with Submit and run by Process. It is not safe
 * for concurrent use except for Submit.
 */
type Engine struct {
	currentStage  Stage
	config        *config.Config
	driver        renderer.HostDriver
	worker        *platform.Worker
	watcher       *config.Watcher
	systemManager *systems.SystemManager
	events        *core.EventBus
	metrics       *core.Metrics
	clock         *core.Clock

	queueMutex sync.Mutex
	queue      *containers.RingQueue[Command]
}

type Option func(*Engine)

// WithWorker hands the platform worker the driver runs on to the engine, which
// closes it after the driver on Shutdown.
func WithWorker(w *platform.Worker) Option {
	return func(e *Engine) {
		e.worker = w
	}
}

/**
 * @brief Creates an engine on top of an existing host driver.
 * @param cfg The validated configuration.
 * @param driver The host driver, owned by the engine from now on.
 */
func New(cfg *config.Config, driver renderer.HostDriver, opts ...Option) (*Engine, error) {
	if cfg == nil || driver == nil {
		err := fmt.Errorf("func New - config and driver are required: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	core.SetLogLevel(cfg.Log.Level)

	events := core.NewEventBus()
	metrics := core.NewMetrics()
	sm, err := systems.NewSystemManager(cfg, driver, metrics, events)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e := &Engine{
		currentStage:  EngineStageInitialized,
		config:        cfg,
		driver:        driver,
		systemManager: sm,
		events:        events,
		metrics:       metrics,
		clock:         core.NewClock(),
		queue:         containers.NewRingQueue[Command](cfg.Driver.CommandQueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	core.LogInfo("engine started on the %s host driver", driver.Name())
	return e, nil
}

// WatchConfig reloads path whenever it changes. Reloads are applied between commands.
func (e *Engine) WatchConfig(path string) error {
	if e.watcher != nil {
		return fmt.Errorf("config is already watched: %w", core.ErrInvalidParameter)
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	e.watcher = w
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

// Metrics returns a copy of the counters.
func (e *Engine) Metrics() core.Metrics {
	return e.metrics.Snapshot()
}

func (e *Engine) Config() *config.Config {
	return e.config
}

/**
 * @brief Applies cfg to the running systems. The table limits, the driver
 * and the cache sizes keep their start values.
 */
func (e *Engine) ApplyConfig(cfg *config.Config, source string) error {
	if err := cfg.Validate(); err != nil {
		core.LogError("config from %s rejected: %s", source, err)
		return err
	}
	if cfg.Driver.Backend != e.config.Driver.Backend {
		core.LogWarn("config from %s: driver.backend changes apply after a restart", source)
	}
	e.systemManager.ApplyConfig(cfg)
	e.config = cfg

	ctx := core.EventContext{}
	ctx.Data.C[0] = source
	e.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, ctx)
	return nil
}

// pollConfig applies the latest reloaded configuration, if any.
func (e *Engine) pollConfig() {
	if e.watcher == nil {
		return
	}
	select {
	case cfg, ok := <-e.watcher.Updates():
		if ok && cfg != nil {
			_ = e.ApplyConfig(cfg, config.ConfigFile)
		}
	default:
	}
}

/**
 * @brief Runs one command. A lost host device resets every context before
 * the error is returned; the command itself is not retried.
 */
func (e *Engine) Execute(cmd Command) error {
	if e.currentStage >= EngineStageShuttingDown {
		return fmt.Errorf("%s after shutdown: %w", cmd, core.ErrWorkerClosed)
	}
	e.pollConfig()

	err := cmd.Apply(e.systemManager)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrDeviceLost) {
		cid := core.InvalidID
		if cc, ok := cmd.(contextCommand); ok {
			cid = cc.Context()
		}
		if resetErr := e.systemManager.Resets.OnDeviceLost(cid); resetErr != nil {
			core.LogError("reset after device loss failed: %s", resetErr)
			return errors.Join(err, resetErr)
		}
	}
	core.LogDebug("%s failed: %s", cmd, err)
	return err
}

// Submit queues cmd for Process. It fails when the queue is full.
func (e *Engine) Submit(cmd Command) error {
	e.queueMutex.Lock()
	defer e.queueMutex.Unlock()
	if err := e.queue.Enqueue(cmd); err != nil {
		return fmt.Errorf("submit %s: %w", cmd, err)
	}
	return nil
}

func (e *Engine) Pending() int {
	e.queueMutex.Lock()
	defer e.queueMutex.Unlock()
	return e.queue.Len()
}

func (e *Engine) next() (Command, bool) {
	e.queueMutex.Lock()
	defer e.queueMutex.Unlock()
	cmd, err := e.queue.Dequeue()
	return cmd, err == nil
}

/**
 * @brief Runs every queued command in order. A failing command is logged and
 * the next one still runs.
 * @return The errors of the failed commands, joined.
 */
func (e *Engine) Process() error {
	e.currentStage = EngineStageRunning
	defer func() {
		if e.currentStage == EngineStageRunning {
			e.currentStage = EngineStageInitialized
		}
	}()

	e.clock.Start()
	var errs []error
	n := 0
	for {
		cmd, ok := e.next()
		if !ok {
			break
		}
		if err := e.Execute(cmd); err != nil {
			errs = append(errs, err)
		}
		n++
	}
	e.clock.Update()
	e.clock.Stop()
	if n > 0 {
		core.LogDebug("processed %d commands in %s, %d failed", n, e.clock.Elapsed(), len(errs))
	}
	return errors.Join(errs...)
}

// Run processes queued commands until ctx is done.
func (e *Engine) Run(ctx context.Context, wake <-chan struct{}) error {
	for {
		if err := e.Process(); err != nil {
			core.LogWarn("command batch finished with errors: %s", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

func (e *Engine) Shutdown() error {
	if e.currentStage >= EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	errs = append(errs, e.systemManager.Shutdown())
	errs = append(errs, e.driver.Shutdown())
	if e.worker != nil {
		errs = append(errs, e.worker.Close())
	}
	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down")
	return errors.Join(errs...)
}

func (e *Engine) ContextDefine(cid uint32) error {
	return e.Execute(ContextDefineCmd{CID: cid})
}

func (e *Engine) ContextDestroy(cid uint32) error {
	return e.Execute(ContextDestroyCmd{CID: cid})
}

func (e *Engine) SurfaceDefine(sid uint32, desc metadata.SurfaceDescriptor) error {
	return e.Execute(SurfaceDefineCmd{SID: sid, Desc: desc})
}

func (e *Engine) SurfaceDestroy(sid uint32) error {
	return e.Execute(SurfaceDestroyCmd{SID: sid})
}

func (e *Engine) BindTexture(cid, stage, sid uint32) error {
	return e.Execute(BindTextureCmd{CID: cid, Stage: stage, SID: sid})
}

func (e *Engine) SetRenderTarget(cid uint32, slot metadata.RenderTargetType, img metadata.SurfaceImageID) error {
	return e.Execute(SetRenderTargetCmd{CID: cid, Slot: slot, Image: img})
}

func (e *Engine) CopySurface(dst, src metadata.SurfaceImageID, boxes []metadata.CopyBox) error {
	return e.Execute(SurfaceCopyCmd{Dst: dst, Src: src, Boxes: boxes})
}

func (e *Engine) StretchBlt(dst metadata.SurfaceImageID, dstBox metadata.Box, src metadata.SurfaceImageID, srcBox metadata.Box, mode metadata.StretchBltMode) error {
	return e.Execute(SurfaceStretchBltCmd{Dst: dst, DstBox: dstBox, Src: src, SrcBox: srcBox, Mode: mode})
}

func (e *Engine) SurfaceDMA(img metadata.SurfaceImageID, guest metadata.GuestImage, direction metadata.TransferDirection, boxes []metadata.CopyBox) error {
	return e.Execute(SurfaceDMACmd{Image: img, Guest: guest, Direction: direction, Boxes: boxes})
}

func (e *Engine) DrawPrimitives(cid uint32, decls []metadata.VertexDecl, ranges []metadata.PrimitiveRange) error {
	return e.Execute(DrawPrimitivesCmd{CID: cid, Decls: decls, Ranges: ranges})
}

func (e *Engine) OnModeChange() error {
	return e.Execute(ModeChangeCmd{})
}

func (e *Engine) SetRenderState(cid uint32, states []metadata.RenderState) error {
	return e.Execute(SetRenderStateCmd{CID: cid, States: states})
}

func (e *Engine) SetTextureState(cid uint32, states []metadata.TextureState) error {
	return e.Execute(SetTextureStateCmd{CID: cid, States: states})
}

func (e *Engine) SetTransform(cid uint32, t metadata.TransformType, m metadata.Matrix) error {
	return e.Execute(SetTransformCmd{CID: cid, Type: t, Matrix: m})
}

func (e *Engine) SetMaterial(cid uint32, face metadata.Face, m metadata.Material) error {
	return e.Execute(SetMaterialCmd{CID: cid, Face: face, Material: m})
}

func (e *Engine) SetLightData(cid, index uint32, light metadata.LightData) error {
	return e.Execute(SetLightDataCmd{CID: cid, Index: index, Light: light})
}

func (e *Engine) SetLightEnabled(cid, index uint32, enabled bool) error {
	return e.Execute(SetLightEnabledCmd{CID: cid, Index: index, Enabled: enabled})
}

func (e *Engine) SetClipPlane(cid, index uint32, plane metadata.ClipPlane) error {
	return e.Execute(SetClipPlaneCmd{CID: cid, Index: index, Plane: plane})
}

func (e *Engine) SetViewport(cid uint32, r metadata.Rect) error {
	return e.Execute(SetViewportCmd{CID: cid, Rect: r})
}

func (e *Engine) SetScissorRect(cid uint32, r metadata.Rect) error {
	return e.Execute(SetScissorRectCmd{CID: cid, Rect: r})
}

func (e *Engine) SetZRange(cid uint32, z metadata.ZRange) error {
	return e.Execute(SetZRangeCmd{CID: cid, Range: z})
}

func (e *Engine) ShaderDefine(cid, shid uint32, t metadata.ShaderType, bytecode []byte) error {
	return e.Execute(ShaderDefineCmd{CID: cid, SHID: shid, Type: t, Bytecode: bytecode})
}

func (e *Engine) ShaderDestroy(cid, shid uint32, t metadata.ShaderType) error {
	return e.Execute(ShaderDestroyCmd{CID: cid, SHID: shid, Type: t})
}

func (e *Engine) ShaderSet(cid uint32, t metadata.ShaderType, shid uint32) error {
	return e.Execute(ShaderSetCmd{CID: cid, Type: t, SHID: shid})
}

func (e *Engine) SetShaderConst(cid uint32, t metadata.ShaderType, c metadata.ShaderConst) error {
	return e.Execute(SetShaderConstCmd{CID: cid, Type: t, Const: c})
}

func (e *Engine) Clear(cid uint32, flags metadata.ClearFlags, color uint32, depth float32, stencil uint32, rects []metadata.Rect) error {
	return e.Execute(ClearCmd{CID: cid, Flags: flags, Color: color, Depth: depth, Stencil: stencil, Rects: rects})
}

func (e *Engine) GenerateMipmaps(sid uint32, filter metadata.TextureFilter) error {
	return e.Execute(GenerateMipmapsCmd{SID: sid, Filter: filter})
}

func (e *Engine) DumpSurface(img metadata.SurfaceImageID, done func(path string, err error)) error {
	return e.Execute(DumpSurfaceCmd{Image: img, Done: done})
}
