package systems

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

/**
 * @brief Compiles bytecode into a shader of context cid. A live shader with
 * the same id and type is replaced.
 * @param cid The context owning the shader.
 * @param shid The guest shader id, unique per context and type.
 * @param t The shader stage.
 * @param bytecode The guest bytecode, copied.
 */
func (cs *ContextSystem) ShaderDefine(cid, shid uint32, t metadata.ShaderType, bytecode []byte) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	shaders, ok := c.Shaders[t]
	if !ok {
		return fmt.Errorf("context %d: shader type %d: %w", cid, t, core.ErrInvalidParameter)
	}
	if shaders.Contains(shid) {
		if err := cs.ShaderDestroy(cid, shid, t); err != nil {
			return err
		}
	}
	handle, err := cs.driver.CreateShader(c.Device, t, bytecode)
	if err != nil {
		err = fmt.Errorf("context %d: create %s shader %d: %w", cid, t, shid, err)
		core.LogError(err.Error())
		return err
	}
	sh := &Shader{
		ID:       shid,
		Type:     t,
		Handle:   handle,
		Bytecode: append([]byte(nil), bytecode...),
	}
	if err := shaders.Define(shid, sh); err != nil {
		_ = cs.driver.DestroyShader(c.Device, handle)
		return fmt.Errorf("context %d: %s shader %d: %w", cid, t, shid, err)
	}
	core.LogDebug("context %d: %s shader %d defined (%d bytes)", cid, t, shid, len(bytecode))
	return nil
}

func (cs *ContextSystem) ShaderDestroy(cid, shid uint32, t metadata.ShaderType) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	sh, err := c.Shader(t, shid)
	if err != nil {
		return err
	}
	if c.Snapshot.Shaders[t] == shid {
		if err := cs.driver.SetShader(c.Device, t, metadata.NullHandle); err != nil {
			core.LogWarn("context %d: unset %s shader %d: %s", cid, t, shid, err)
		}
		c.Snapshot.forgetShader(t, shid)
	}
	if err := cs.driver.DestroyShader(c.Device, sh.Handle); err != nil {
		core.LogWarn("context %d: destroy %s shader %d: %s", cid, t, shid, err)
	}
	return c.Shaders[t].Free(shid)
}

// ShaderSet makes shid the active shader of type t. An invalid id unsets it.
func (cs *ContextSystem) ShaderSet(cid uint32, t metadata.ShaderType, shid uint32) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("context %d: shader type %d: %w", cid, t, core.ErrInvalidParameter)
	}
	handle := metadata.ShaderHandle(metadata.NullHandle)
	if core.IsValidID(shid) {
		sh, err := c.Shader(t, shid)
		if err != nil {
			return err
		}
		handle = sh.Handle
	} else {
		shid = core.InvalidID
	}
	if err := cs.driver.SetShader(c.Device, t, handle); err != nil {
		return err
	}
	c.Snapshot.SetShader(t, shid)
	return nil
}

func (cs *ContextSystem) SetShaderConst(cid uint32, t metadata.ShaderType, sc metadata.ShaderConst) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetShaderConst(c.Device, t, sc); err != nil {
		return err
	}
	c.Snapshot.SetShaderConst(t, sc)
	return nil
}
