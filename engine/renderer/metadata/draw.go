package metadata

type DeclType uint32

const (
	DeclTypeFloat1   DeclType = 0
	DeclTypeFloat2   DeclType = 1
	DeclTypeFloat3   DeclType = 2
	DeclTypeFloat4   DeclType = 3
	DeclTypeD3DColor DeclType = 4
	DeclTypeUByte4   DeclType = 5
)

type DeclUsage uint32

const (
	DeclUsagePosition DeclUsage = 0
	DeclUsageNormal   DeclUsage = 3
	DeclUsageTexCoord DeclUsage = 5
	DeclUsageColor    DeclUsage = 10
)

/** @brief Where the data of one vertex element lives. */
type ArrayRange struct {
	SurfaceID uint32
	Offset    uint32
	Stride    uint32
}

/** @brief One element of a vertex declaration. */
type VertexDecl struct {
	Type       DeclType
	Usage      DeclUsage
	UsageIndex uint32
	Array      ArrayRange
}

type PrimitiveType uint32

const (
	PrimitiveTriangleList  PrimitiveType = 1
	PrimitivePointList     PrimitiveType = 2
	PrimitiveLineList      PrimitiveType = 3
	PrimitiveLineStrip     PrimitiveType = 4
	PrimitiveTriangleStrip PrimitiveType = 5
	PrimitiveTriangleFan   PrimitiveType = 6
)

/**
 * @brief A primitive batch. An IndexArray.SurfaceID of core.InvalidID draws
 * without an index buffer.
 */
type PrimitiveRange struct {
	Type           PrimitiveType
	PrimitiveCount uint32
	IndexArray     ArrayRange
	IndexWidth     uint32
	IndexBias      int32
}
