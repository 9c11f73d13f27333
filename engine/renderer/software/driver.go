package software

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

const handleTableBlock = 64
const handleTableMax = 1 << 24

type Config struct {
	/** @brief Device creation runs here when set, as a real window system would require. */
	Worker *platform.Worker
	/** @brief Polls an issued event query stays pending before it signals. */
	QueryLatency int
}

type renderTargetBinding struct {
	Object metadata.ObjectHandle
	Sub    metadata.SubResource
}

type device struct {
	cid    uint32
	params metadata.DeviceParams
	lost   bool
	ops    []string

	renderTargets [metadata.MaxRenderTargets]renderTargetBinding
	textures      [metadata.MaxSamplers]metadata.ObjectHandle
	renderStates  map[metadata.RenderStateName]uint32
	textureStates map[metadata.TextureState]struct{}
	transforms    map[metadata.TransformType]metadata.Matrix
	materials     map[metadata.Face]metadata.Material
	lights        map[uint32]metadata.LightData
	lightEnabled  map[uint32]bool
	clipPlanes    map[uint32]metadata.ClipPlane
	viewport      metadata.Rect
	scissor       metadata.Rect
	zRange        metadata.ZRange
	shaders       map[metadata.ShaderType]metadata.ShaderHandle
	consts        map[metadata.ShaderType]map[uint32]metadata.ShaderConst
	draws         int
}

func newDevice(cid uint32, params metadata.DeviceParams) *device {
	d := &device{cid: cid, params: params}
	d.resetState()
	return d
}

func (d *device) resetState() {
	d.renderTargets = [metadata.MaxRenderTargets]renderTargetBinding{}
	d.textures = [metadata.MaxSamplers]metadata.ObjectHandle{}
	d.renderStates = make(map[metadata.RenderStateName]uint32)
	d.textureStates = make(map[metadata.TextureState]struct{})
	d.transforms = make(map[metadata.TransformType]metadata.Matrix)
	d.materials = make(map[metadata.Face]metadata.Material)
	d.lights = make(map[uint32]metadata.LightData)
	d.lightEnabled = make(map[uint32]bool)
	d.clipPlanes = make(map[uint32]metadata.ClipPlane)
	d.viewport = metadata.Rect{W: d.params.Width, H: d.params.Height}
	d.scissor = metadata.Rect{}
	d.zRange = metadata.ZRange{Min: 0, Max: 1}
	d.shaders = make(map[metadata.ShaderType]metadata.ShaderHandle)
	d.consts = make(map[metadata.ShaderType]map[uint32]metadata.ShaderConst)
}

func (d *device) record(format string, args ...interface{}) {
	d.ops = append(d.ops, fmt.Sprintf(format, args...))
}

// Driver keeps every object in host memory. It is deterministic, supports
// failure injection and is the host used by the test suites.
type Driver struct {
	mutex  sync.Mutex
	worker *platform.Worker

	devices *containers.SlotTable[*device]
	objects *containers.SlotTable[*object]
	queries *containers.SlotTable[*query]
	shaders *containers.SlotTable[*shader]
	decls   *containers.SlotTable[*vertexDecl]

	objectGen    uint32
	queryLatency int
	failUsage    metadata.Usage
	failNext     int
}

func New(cfg Config) *Driver {
	latency := cfg.QueryLatency
	if latency < 1 {
		latency = 1
	}
	return &Driver{
		worker:       cfg.Worker,
		devices:      containers.NewSlotTable[*device](handleTableBlock, handleTableMax),
		objects:      containers.NewSlotTable[*object](handleTableBlock, handleTableMax),
		queries:      containers.NewSlotTable[*query](handleTableBlock, handleTableMax),
		shaders:      containers.NewSlotTable[*shader](handleTableBlock, handleTableMax),
		decls:        containers.NewSlotTable[*vertexDecl](handleTableBlock, handleTableMax),
		queryLatency: latency,
	}
}

func (d *Driver) Name() string {
	return "software"
}

// handles are slot ids shifted by one so that zero stays the null handle
func toHandle(id uint32) uint64 {
	return uint64(id) + 1
}

func toID(h uint64) uint32 {
	if h == 0 || h > handleTableMax {
		return core.InvalidID
	}
	return uint32(h - 1)
}

func (d *Driver) device(dev metadata.DeviceHandle) (*device, error) {
	dv, err := d.devices.Lookup(toID(uint64(dev)))
	if err != nil {
		return nil, fmt.Errorf("software driver: unknown device %d: %w", dev, err)
	}
	return dv, nil
}

func (d *Driver) liveDevice(dev metadata.DeviceHandle) (*device, error) {
	dv, err := d.device(dev)
	if err != nil {
		return nil, err
	}
	if dv.lost {
		return nil, fmt.Errorf("software driver: device %d: %w", dev, core.ErrDeviceLost)
	}
	return dv, nil
}

func (d *Driver) CreateDevice(cid uint32, params metadata.DeviceParams) (metadata.DeviceHandle, error) {
	create := func() (metadata.DeviceHandle, error) {
		d.mutex.Lock()
		defer d.mutex.Unlock()
		id, err := d.devices.Allocate(newDevice(cid, params))
		if err != nil {
			return metadata.NullHandle, err
		}
		return metadata.DeviceHandle(toHandle(id)), nil
	}
	var (
		h   metadata.DeviceHandle
		err error
	)
	if d.worker != nil {
		h, err = platform.Call(context.Background(), d.worker, create)
	} else {
		h, err = create()
	}
	if err != nil {
		return metadata.NullHandle, fmt.Errorf("software driver: create device for context %d: %w", cid, err)
	}
	core.LogDebug("software device %d created for context %d", h, cid)
	return h, nil
}

func (d *Driver) DestroyDevice(dev metadata.DeviceHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.device(dev); err != nil {
		return err
	}
	d.objects.Each(func(id uint32, o *object) bool {
		if o.device == dev {
			core.LogWarn("software device %d destroyed with live object %d", dev, objectHandle(id, o.gen))
			_ = d.objects.Free(id)
		}
		return true
	})
	d.queries.Each(func(id uint32, q *query) bool {
		if q.device == dev {
			_ = d.queries.Free(id)
		}
		return true
	})
	d.shaders.Each(func(id uint32, s *shader) bool {
		if s.device == dev {
			_ = d.shaders.Free(id)
		}
		return true
	})
	d.decls.Each(func(id uint32, v *vertexDecl) bool {
		if v.device == dev {
			_ = d.decls.Free(id)
		}
		return true
	})
	return d.devices.Free(toID(uint64(dev)))
}

// ResetDevice drops every object of dev that does not survive a reset and
// restores the default device state.
func (d *Driver) ResetDevice(dev metadata.DeviceHandle, params metadata.DeviceParams) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	d.objects.Each(func(id uint32, o *object) bool {
		if o.device == dev && !o.survivesReset() {
			o.invalid = true
		}
		return true
	})
	dv.lost = false
	dv.params = params
	dv.resetState()
	dv.record("reset")
	return nil
}

func (d *Driver) Shutdown() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if n := d.objects.Live(); n > 0 {
		core.LogWarn("software driver shut down with %d live objects", n)
	}
	return nil
}

// LoseDevice makes every blocking call on dev fail with core.ErrDeviceLost
// until ResetDevice is called.
func (d *Driver) LoseDevice(dev metadata.DeviceHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	dv.lost = true
	return nil
}

// FailUsage makes object creation fail whenever the requested usage has one
// of the given bits. Zero clears it.
func (d *Driver) FailUsage(u metadata.Usage) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failUsage = u
}

// FailNextCreations makes the next n object creations fail.
func (d *Driver) FailNextCreations(n int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failNext = n
}

// DeviceOps returns the state changes applied to dev since its last reset, in order.
func (d *Driver) DeviceOps(dev metadata.DeviceHandle) []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return nil
	}
	return append([]string(nil), dv.ops...)
}

func (d *Driver) ClearDeviceOps(dev metadata.DeviceHandle) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if dv, err := d.device(dev); err == nil {
		dv.ops = nil
	}
}

func (d *Driver) DeviceCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.devices.Live()
}

func (d *Driver) ObjectCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.objects.Live()
}

func (d *Driver) QueryCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.queries.Live()
}

func (d *Driver) DrawCount(dev metadata.DeviceHandle) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return 0
	}
	return dv.draws
}

// ObjectInfo reports the device and creation parameters of a live object.
func (d *Driver) ObjectInfo(obj metadata.ObjectHandle) (metadata.DeviceHandle, metadata.ObjectDesc, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	o, err := d.object(obj)
	if err != nil {
		return metadata.NullHandle, metadata.ObjectDesc{}, err
	}
	return o.device, o.desc, nil
}

// ReadObject copies a sub resource regardless of lockability.
func (d *Driver) ReadObject(obj metadata.ObjectHandle, sub metadata.SubResource) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	o, err := d.object(obj)
	if err != nil {
		return nil, err
	}
	s, err := o.sub(sub)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s.data...), nil
}
