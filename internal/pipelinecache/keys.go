package pipelinecache

import (
	"encoding/binary"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/shader"
)

// FaceCullMode mirrors the teacher engine's cull-mode enum.
type FaceCullMode int

const (
	CullBack FaceCullMode = iota
	CullFront
	CullFrontAndBack
	CullNone
)

// StencilState is one face (front or back) of the stencil test.
type StencilState struct {
	FailOp, PassOp, DepthFailOp vk.StencilOp
	CompareOp                   vk.CompareOp
	CompareMask, WriteMask, Reference uint32
}

// BlendState is the material's color-blend configuration. Zero value means
// "blending effectively disabled", which the pipeline builder renders as a
// pass-through ONE/ZERO blend.
type BlendState struct {
	Enabled      bool
	SrcColor     vk.BlendFactor
	DstColor     vk.BlendFactor
	ColorOp      vk.BlendOp
	SrcAlpha     vk.BlendFactor
	DstAlpha     vk.BlendFactor
	AlphaOp      vk.BlendOp
}

// MaterialKey is the immutable, pipeline-affecting part of a material.
// Equality is bytewise struct equality — Go struct comparison
// over comparable fields gives this for free as long as every field here is
// itself comparable, which is why Shader is referenced by pointer identity
// rather than by value.
type MaterialKey struct {
	Shader          *shader.Shader
	Cull            FaceCullMode
	ColorWriteMask  vk.ColorComponentFlagBits
	DepthTestWrite  bool
	DepthCompare    vk.CompareOp
	Blend           BlendState
	AlphaToCoverage bool
	StencilFront    StencilState
	StencilBack     StencilState
	StencilEnabled  bool
}

// RenderPassKey identifies a registered render pass by its attachment
// format/sample configuration.
type RenderPassKey struct {
	ColorFormat   vk.Format
	DepthFormat   vk.Format
	ResolveFormat vk.Format
	Samples       vk.SampleCountFlagBits
	DepthStoreOp  vk.AttachmentStoreOp
	ColorLoadOp   vk.AttachmentLoadOp
}

// VertexComponent is one element of a vertex format.
type VertexComponent struct {
	Semantic string
	Format   vk.Format
	Count    uint32
}

// VertexFormat is an interned sequence of components producing a packed
// binding stride and attribute list.
type VertexFormat struct {
	Components []VertexComponent
	Stride     uint32
	Attributes []vk.VertexInputAttributeDescription
}

// encode produces a canonical byte-comparable key. Two vertex formats with
// identical component sequences always encode identically regardless of how
// the caller built the slice.
func (v VertexFormat) encode() string {
	buf := make([]byte, 0, len(v.Components)*16)
	var tmp [8]byte
	for _, c := range v.Components {
		buf = append(buf, c.Semantic...)
		buf = append(buf, 0)
		binary.LittleEndian.PutUint32(tmp[:4], uint32(c.Format))
		binary.LittleEndian.PutUint32(tmp[4:], c.Count)
		buf = append(buf, tmp[:]...)
	}
	return string(buf)
}
