package core

// InvalidID marks an unused slot, an unbound sampler or render target and
// a surface that is not associated with any context.
const InvalidID uint32 = 0xFFFFFFFF

func IsValidID(id uint32) bool {
	return id != InvalidID
}

// AlignUp rounds v up to the next multiple of block. A zero block leaves v untouched.
func AlignUp(v, block uint32) uint32 {
	if block == 0 {
		return v
	}
	return (v + block - 1) / block * block
}
