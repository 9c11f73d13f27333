package systems

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// VertexDeclCache keeps the host vertex declarations of one device, keyed by
// their element list. Evicted declarations are destroyed on the device.
type VertexDeclCache struct {
	cache  *lru.Cache
	driver renderer.HostDriver
	device metadata.DeviceHandle
}

func NewVertexDeclCache(size int, driver renderer.HostDriver, dev metadata.DeviceHandle) (*VertexDeclCache, error) {
	if size <= 0 {
		err := fmt.Errorf("func NewVertexDeclCache - size must be > 0: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	vc := &VertexDeclCache{
		driver: driver,
		device: dev,
	}
	cache, err := lru.NewWithEvict(size, vc.onEvict)
	if err != nil {
		return nil, err
	}
	vc.cache = cache
	return vc, nil
}

func (vc *VertexDeclCache) onEvict(key, value interface{}) {
	decl, ok := value.(metadata.DeclHandle)
	if !ok {
		return
	}
	if err := vc.driver.DestroyVertexDecl(vc.device, decl); err != nil {
		core.LogWarn("vertex declaration %v: destroy on eviction: %s", key, err)
	}
}

func declKey(elements []metadata.VertexDecl) string {
	return fmt.Sprint(elements)
}

// Get returns the declaration for elements, creating it on a miss.
func (vc *VertexDeclCache) Get(elements []metadata.VertexDecl) (metadata.DeclHandle, error) {
	key := declKey(elements)
	if v, ok := vc.cache.Get(key); ok {
		return v.(metadata.DeclHandle), nil
	}
	decl, err := vc.driver.CreateVertexDecl(vc.device, elements)
	if err != nil {
		return metadata.NullHandle, err
	}
	vc.cache.Add(key, decl)
	return decl, nil
}

func (vc *VertexDeclCache) Len() int {
	return vc.cache.Len()
}

// Purge destroys every cached declaration.
func (vc *VertexDeclCache) Purge() {
	vc.cache.Purge()
}
