package systems

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

/** @brief The configuration for the resource table. */
type ResourceTableConfig struct {
	/** @brief Slots every table grows by. */
	GrowBlock uint32
	/** @brief Context ids must stay below this. */
	MaxContextIDs uint32
	/** @brief Surface ids must stay below this. */
	MaxSurfaceIDs uint32
	/** @brief Shader ids of one context and stage must stay below this. */
	MaxShaderIDs uint32
}

// ResourceTable holds every guest visible object by its guest id. Systems keep
// ids and look them up per operation.
type ResourceTable struct {
	Config   ResourceTableConfig
	contexts *containers.SlotTable[*Context]
	surfaces *containers.SlotTable[*Surface]
}

func NewResourceTable(config ResourceTableConfig) (*ResourceTable, error) {
	if config.GrowBlock == 0 || config.MaxContextIDs == 0 || config.MaxSurfaceIDs == 0 || config.MaxShaderIDs == 0 {
		err := fmt.Errorf("func NewResourceTable - every table limit must be > 0: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	return &ResourceTable{
		Config:   config,
		contexts: containers.NewSlotTable[*Context](config.GrowBlock, config.MaxContextIDs),
		surfaces: containers.NewSlotTable[*Surface](config.GrowBlock, config.MaxSurfaceIDs),
	}, nil
}

func (rt *ResourceTable) Context(cid uint32) (*Context, error) {
	c, err := rt.contexts.Lookup(cid)
	if err != nil {
		return nil, fmt.Errorf("context %d: %w", cid, err)
	}
	return c, nil
}

func (rt *ResourceTable) Surface(sid uint32) (*Surface, error) {
	s, err := rt.surfaces.Lookup(sid)
	if err != nil {
		return nil, fmt.Errorf("surface %d: %w", sid, err)
	}
	return s, nil
}

func (rt *ResourceTable) HasContext(cid uint32) bool {
	return rt.contexts.Contains(cid)
}

// LowestContextID returns core.InvalidID when no context is live.
func (rt *ResourceTable) LowestContextID() uint32 {
	lowest := core.InvalidID
	rt.contexts.Each(func(id uint32, _ *Context) bool {
		lowest = id
		return false
	})
	return lowest
}

func (rt *ResourceTable) EachContext(fn func(c *Context) bool) {
	rt.contexts.Each(func(_ uint32, c *Context) bool {
		return fn(c)
	})
}

func (rt *ResourceTable) EachSurface(fn func(s *Surface) bool) {
	rt.surfaces.Each(func(_ uint32, s *Surface) bool {
		return fn(s)
	})
}

func (rt *ResourceTable) ContextIDs() []uint32 {
	return rt.contexts.IDs()
}

func (rt *ResourceTable) SurfaceIDs() []uint32 {
	return rt.surfaces.IDs()
}

/**
 * @brief A per consuming context duplicate of a surface. The object lives on
 * the device of the surface's context and is opened by the consumer through
 * its share handle.
 */
type SharedSurfaceEntry struct {
	ContextID uint32
	Object    metadata.Object
	Kind      metadata.ObjectKind
}

/** @brief A guest surface: descriptor, CPU mirror and at most one backend object. */
type Surface struct {
	ID   uint32
	Desc metadata.SurfaceDescriptor
	/** @brief Mirror levels indexed [face][mip]. */
	Levels [][]metadata.MipLevel
	/** @brief The context whose device holds Object, core.InvalidID when none. */
	ContextID uint32
	/** @brief Lowest live context when the surface was defined. */
	HomeContextID uint32

	Kind     metadata.ObjectKind
	Object   metadata.Object
	Bounce   metadata.Object
	Usage    metadata.Usage
	Degraded bool

	Fence  *Fence
	Shared map[uint32]*SharedSurfaceEntry
}

func newSurface(sid uint32, desc metadata.SurfaceDescriptor, home uint32) (*Surface, error) {
	s := &Surface{
		ID:            sid,
		Desc:          desc.Clone(),
		ContextID:     core.InvalidID,
		HomeContextID: home,
		Shared:        make(map[uint32]*SharedSurfaceEntry),
	}
	s.Levels = make([][]metadata.MipLevel, desc.Faces)
	for face := range s.Levels {
		s.Levels[face] = make([]metadata.MipLevel, len(desc.MipSizes))
		for mip, size := range desc.MipSizes {
			level, err := metadata.NewMipLevel(desc.Format, size)
			if err != nil {
				return nil, err
			}
			level.Allocate()
			s.Levels[face][mip] = level
		}
	}
	return s, nil
}

func (s *Surface) HasObject() bool {
	return s.Object.Handle != metadata.NullHandle
}

func (s *Surface) HasBounce() bool {
	return s.Bounce.Handle != metadata.NullHandle
}

// KeepsMirror reports whether the mirror stays authoritative after creation.
func (s *Surface) KeepsMirror() bool {
	return s.Desc.IsBuffer()
}

func (s *Surface) Level(face, mip uint32) (*metadata.MipLevel, error) {
	if face >= uint32(len(s.Levels)) || mip >= uint32(len(s.Levels[face])) {
		return nil, fmt.Errorf("surface %d has no face %d mip %d: %w", s.ID, face, mip, core.ErrInvalidParameter)
	}
	return &s.Levels[face][mip], nil
}

func (s *Surface) eachLevel(fn func(face, mip uint32, level *metadata.MipLevel) error) error {
	for face := range s.Levels {
		for mip := range s.Levels[face] {
			if err := fn(uint32(face), uint32(mip), &s.Levels[face][mip]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Surface) anyDirty() bool {
	dirty := false
	_ = s.eachLevel(func(_, _ uint32, level *metadata.MipLevel) error {
		dirty = dirty || level.Dirty
		return nil
	})
	return dirty
}

// mirrorIntact reports whether every level still holds mirror bytes.
func (s *Surface) mirrorIntact() bool {
	intact := true
	_ = s.eachLevel(func(_, _ uint32, level *metadata.MipLevel) error {
		intact = intact && level.Data != nil
		return nil
	})
	return intact
}

// ensureMirror gives levels without mirror bytes a zeroed mirror.
func (s *Surface) ensureMirror() {
	_ = s.eachLevel(func(_, _ uint32, level *metadata.MipLevel) error {
		if level.Data == nil {
			level.Allocate()
		}
		return nil
	})
}

func (s *Surface) freeMirror() {
	_ = s.eachLevel(func(_, _ uint32, level *metadata.MipLevel) error {
		level.Data = nil
		level.Dirty = false
		return nil
	})
}

/** @brief A guest shader defined on one context. */
type Shader struct {
	ID       uint32
	Type     metadata.ShaderType
	Handle   metadata.ShaderHandle
	Bytecode []byte
}

/** @brief A guest rendering context and the host device realizing it. */
type Context struct {
	ID     uint32
	Device metadata.DeviceHandle
	Params metadata.DeviceParams

	Shaders  map[metadata.ShaderType]*containers.SlotTable[*Shader]
	Snapshot *Snapshot
	Decls    *VertexDeclCache
}

func (c *Context) Shader(t metadata.ShaderType, shid uint32) (*Shader, error) {
	table, ok := c.Shaders[t]
	if !ok {
		return nil, fmt.Errorf("context %d: shader type %d: %w", c.ID, t, core.ErrInvalidParameter)
	}
	sh, err := table.Lookup(shid)
	if err != nil {
		return nil, fmt.Errorf("context %d: %s shader %d: %w", c.ID, t, shid, err)
	}
	return sh, nil
}
