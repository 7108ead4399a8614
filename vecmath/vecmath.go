// Package vecmath aliases go-gl/mathgl's float32 vector/matrix types for use
// across the renderer core: texture extents, viewport/scissor rectangles,
// and the bump allocator's alignment arithmetic all want a real vector
// library rather than ad hoc [3]float32 triples.
package vecmath

import "github.com/go-gl/mathgl/mgl32"

type Vec3 = mgl32.Vec3
type Vec4 = mgl32.Vec4
type Mat4 = mgl32.Mat4

// Extent3D is a texture's (x, y, z) size in texels/layers.
type Extent3D struct {
	X, Y, Z uint32
}

func (e Extent3D) Vec3() Vec3 {
	return Vec3{float32(e.X), float32(e.Y), float32(e.Z)}
}

// AlignUp rounds size up to the next multiple of alignment. Used by the bump
// allocator to honor the backend's minimum UBO/SSBO alignment.
func AlignUp(size, alignment uint64) uint64 {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}
