// Package shader holds the immutable compiled shader artifact and its
// reflection metadata: named parameters, named resource bindings, the
// optional $Global uniform block, and the register-slot shifts that form
// the wire-level contract with the shader compiler.
package shader

import vk "github.com/goki/vulkan"

// Stage is one of the three stages a shader may provide.
type Stage int

const (
	StageVertex Stage = 1 << iota
	StagePixel
	StageCompute
)

func (s Stage) VkStageFlags() vk.ShaderStageFlagBits {
	var f vk.ShaderStageFlagBits
	if s&StageVertex != 0 {
		f |= vk.ShaderStageVertexBit
	}
	if s&StagePixel != 0 {
		f |= vk.ShaderStageFragmentBit
	}
	if s&StageCompute != 0 {
		f |= vk.ShaderStageComputeBit
	}
	return f
}

// RegisterKind is the HLSL-style classification used to derive descriptor
// types. Slots are partitioned by fixed shifts.
type RegisterKind int

const (
	RegisterConstant RegisterKind = iota // uniform/constant, 'b' in HLSL
	RegisterSampled                      // sampled/structured read, 't' in HLSL
	RegisterStorage                      // UAV/storage, 'u' in HLSL
)

// Slot shifts are the wire-level contract with the shader compiler.
const (
	ConstantSlotShift = 0
	SampledSlotShift  = 100
	StorageSlotShift  = 200
)

func (k RegisterKind) Shift() int {
	switch k {
	case RegisterSampled:
		return SampledSlotShift
	case RegisterStorage:
		return StorageSlotShift
	default:
		return ConstantSlotShift
	}
}

// ResourceKind distinguishes what a non-constant binding actually is, since
// RegisterSampled covers both sampled textures and read-only structured
// buffers, and RegisterStorage covers both storage buffers and storage
// images.
type ResourceKind int

const (
	ResourceUniformBuffer ResourceKind = iota
	ResourceStorageBuffer
	ResourceSampledTexture
	ResourceStorageImage
)

func (k ResourceKind) VkDescriptorType() vk.DescriptorType {
	switch k {
	case ResourceStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case ResourceSampledTexture:
		return vk.DescriptorTypeCombinedImageSampler
	case ResourceStorageImage:
		return vk.DescriptorTypeStorageImage
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

// Default names a stock resource a binding falls back to when nothing else
// supplies it.
type Default int

const (
	DefaultNone Default = iota
	DefaultWhite
	DefaultBlack
	DefaultGray
)

// Binding is one reflected resource binding.
type Binding struct {
	Name       string
	Slot       int // raw slot index, already shifted by RegisterKind
	Kind       ResourceKind
	StageMask  Stage
	DefaultTex Default
}

// ParamType mirrors the $Global parameter types a material can set, with
// Uint8 as the raw-bytes escape hatch.
type ParamType int

const (
	ParamFloat32 ParamType = iota
	ParamFloat32x2
	ParamFloat32x3
	ParamFloat32x4
	ParamInt32
	ParamUint32
	ParamMatrix4
	ParamUint8 // raw bytes
)

func (t ParamType) Size() int {
	switch t {
	case ParamFloat32, ParamInt32, ParamUint32:
		return 4
	case ParamFloat32x2:
		return 8
	case ParamFloat32x3:
		return 12
	case ParamFloat32x4:
		return 16
	case ParamMatrix4:
		return 64
	default:
		return 0 // Uint8: caller-specified count
	}
}

// Param is one named $Global member.
type Param struct {
	Name   string
	Type   ParamType
	Offset int
	Count  int // element count for Uint8 raw-bytes params
}

// GlobalBlock describes the shader's optional $Global uniform block.
type GlobalBlock struct {
	Size    int
	Params  []Param
	Default []byte // default values, len == Size, or nil for zero-init
}

// Shader is the immutable compiled artifact. Construction (SPIR-V loading,
// reflection parsing) is the external shader-file container's job; callers
// build a Shader value directly from already-reflected metadata.
type Shader struct {
	Name     string
	Stages   Stage
	Modules  map[Stage]vk.ShaderModule
	Bindings []Binding
	Global   *GlobalBlock // nil if the shader has no $Global block

	bindingByName map[string]int
}

// New indexes a Shader's bindings by name.
func New(name string, stages Stage, modules map[Stage]vk.ShaderModule, bindings []Binding, global *GlobalBlock) *Shader {
	s := &Shader{
		Name:          name,
		Stages:        stages,
		Modules:       modules,
		Bindings:      bindings,
		Global:        global,
		bindingByName: make(map[string]int, len(bindings)),
	}
	for i, b := range bindings {
		s.bindingByName[b.Name] = i
	}
	return s
}

// BindingByName looks up a reflected binding, returning (index, true) or
// (-1, false). Used by set_tex/set_buffer to resolve a name to a slot.
func (s *Shader) BindingByName(name string) (int, bool) {
	i, ok := s.bindingByName[name]
	if !ok {
		return -1, false
	}
	return i, true
}

// ParamByName looks up a $Global member by name, or returns nil.
func (s *Shader) ParamByName(name string) *Param {
	if s.Global == nil {
		return nil
	}
	for i := range s.Global.Params {
		if s.Global.Params[i].Name == name {
			return &s.Global.Params[i]
		}
	}
	return nil
}

// BufferCount and ResourceCount split the reflected bindings the way
// material creation needs.
func (s *Shader) BufferCount() int {
	n := 0
	for _, b := range s.Bindings {
		if b.Kind == ResourceUniformBuffer || b.Kind == ResourceStorageBuffer {
			n++
		}
	}
	return n
}

func (s *Shader) ResourceCount() int {
	n := 0
	for _, b := range s.Bindings {
		if b.Kind == ResourceSampledTexture || b.Kind == ResourceStorageImage {
			n++
		}
	}
	return n
}
