package metadata

/** @brief Shader stage, numbered as on the wire. */
type ShaderType uint32

const (
	ShaderTypeVertex ShaderType = 1
	ShaderTypePixel  ShaderType = 2
)

func (t ShaderType) String() string {
	switch t {
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypePixel:
		return "pixel"
	}
	return "unknown"
}

func (t ShaderType) Valid() bool {
	return t == ShaderTypeVertex || t == ShaderTypePixel
}

type ShaderConstType uint32

const (
	ShaderConstFloat ShaderConstType = 0
	ShaderConstInt   ShaderConstType = 1
	ShaderConstBool  ShaderConstType = 2
)

/**
 * @brief A shader constant register. Values hold the raw 32 bit words, float
 * registers keep their IEEE bit pattern.
 */
type ShaderConst struct {
	Register uint32
	Type     ShaderConstType
	Values   [4]uint32
}
