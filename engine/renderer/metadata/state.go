package metadata

const (
	/** @brief Texture sampler slots per context. */
	MaxSamplers uint32 = 16
	/** @brief Render target slots: depth, stencil and eight colour targets. */
	MaxRenderTargets uint32 = 10
	MaxLights        uint32 = 32
	MaxClipPlanes    uint32 = 6
	MaxTransforms    uint32 = 14
	MaxShaderConsts  uint32 = 256
)

type RenderStateName uint32

const (
	RenderStateZEnable          RenderStateName = 1
	RenderStateZWriteEnable     RenderStateName = 2
	RenderStateAlphaTestEnable  RenderStateName = 3
	RenderStateDitherEnable     RenderStateName = 4
	RenderStateBlendEnable      RenderStateName = 5
	RenderStateFogEnable        RenderStateName = 6
	RenderStateSpecularEnable   RenderStateName = 7
	RenderStateStencilEnable    RenderStateName = 8
	RenderStateLightingEnable   RenderStateName = 9
	RenderStateNormalizeNormals RenderStateName = 10
	RenderStateCullMode         RenderStateName = 23
	RenderStateZFunc            RenderStateName = 24
	RenderStateColorWriteEnable RenderStateName = 37
	RenderStateMax              RenderStateName = 100
)

type RenderState struct {
	State RenderStateName
	Value uint32
}

type TextureStateName uint32

const (
	TextureStateBindTexture   TextureStateName = 1
	TextureStateColorOp       TextureStateName = 2
	TextureStateColorArg1     TextureStateName = 3
	TextureStateColorArg2     TextureStateName = 4
	TextureStateAlphaOp       TextureStateName = 5
	TextureStateAddressU      TextureStateName = 8
	TextureStateAddressV      TextureStateName = 9
	TextureStateMipFilter     TextureStateName = 10
	TextureStateMagFilter     TextureStateName = 11
	TextureStateMinFilter     TextureStateName = 12
	TextureStateBorderColor   TextureStateName = 13
	TextureStateTexCoordIndex TextureStateName = 14
	TextureStateAddressW      TextureStateName = 15
	TextureStateMax           TextureStateName = 32
)

type TextureState struct {
	Stage uint32
	Name  TextureStateName
	Value uint32
}

type TextureFilter uint32

const (
	TextureFilterNone        TextureFilter = 0
	TextureFilterNearest     TextureFilter = 1
	TextureFilterLinear      TextureFilter = 2
	TextureFilterAnisotropic TextureFilter = 3
)

type TransformType uint32

const (
	TransformWorld      TransformType = 1
	TransformView       TransformType = 2
	TransformProjection TransformType = 3
	TransformTexture0   TransformType = 4
	TransformWorld1     TransformType = 12
	TransformWorld2     TransformType = 13
)

type Matrix [16]float32

func IdentityMatrix() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

type Face uint32

const (
	FaceFront     Face = 1
	FaceBack      Face = 2
	FaceFrontBack Face = 3
)

type Material struct {
	Diffuse   [4]float32
	Ambient   [4]float32
	Specular  [4]float32
	Emissive  [4]float32
	Shininess float32
}

type LightType uint32

const (
	LightTypePoint       LightType = 1
	LightTypeSpot1       LightType = 2
	LightTypeSpot2       LightType = 3
	LightTypeDirectional LightType = 4
)

type LightData struct {
	Type         LightType
	InWorldSpace bool
	Diffuse      [4]float32
	Specular     [4]float32
	Ambient      [4]float32
	Position     [4]float32
	Direction    [4]float32
	Range        float32
	Falloff      float32
	Attenuation0 float32
	Attenuation1 float32
	Attenuation2 float32
	Theta        float32
	Phi          float32
}

type ClipPlane [4]float32

type ZRange struct {
	Min float32
	Max float32
}

/** @brief Render target slot, numbered as on the wire. */
type RenderTargetType uint32

const (
	RenderTargetDepth   RenderTargetType = 0
	RenderTargetStencil RenderTargetType = 1
	RenderTargetColor0  RenderTargetType = 2
	RenderTargetColor7  RenderTargetType = 9
)

func (t RenderTargetType) IsDepthStencil() bool {
	return t == RenderTargetDepth || t == RenderTargetStencil
}

type ClearFlags uint32

const (
	ClearColor   ClearFlags = 0x1
	ClearDepth   ClearFlags = 0x2
	ClearStencil ClearFlags = 0x4
)

type StretchBltMode uint32

const (
	StretchBltPoint  StretchBltMode = 0
	StretchBltLinear StretchBltMode = 1
)
