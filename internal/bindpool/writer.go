package bindpool

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/shader"
)

// GlobalBinding is a descriptor value supplied by the engine-wide global
// table rather than by the material itself (e.g. the system constants
// buffer, a shared shadow-map atlas). The frame renderer populates one of
// these per named global binding.
type GlobalBinding struct {
	Name string
	Set  bool

	Buffer       vk.Buffer
	BufferOffset uint64
	BufferRange  uint64

	ImageView   vk.ImageView
	Sampler     vk.Sampler
	ImageLayout vk.ImageLayout
}

// BuildDescriptorWrites merges the engine's global bindings with a
// material's own bindings, one vk.WriteDescriptorSet per reflected binding.
// A material binding takes precedence over a same-named global; a binding
// satisfied by neither source fails with the binding's name so the caller
// can report exactly what was missing.
func BuildDescriptorWrites(m *Material, set vk.DescriptorSet, globals map[string]GlobalBinding) ([]vk.WriteDescriptorSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	writes := make([]vk.WriteDescriptorSet, 0, len(m.bindings))
	for i, b := range m.sh.Bindings {
		bv := m.bindings[i]

		if bv.set {
			write, err := materialWrite(set, uint32(i), b, bv)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write)
			continue
		}

		g, ok := globals[b.Name]
		if !ok || !g.Set {
			return nil, fmt.Errorf("bindpool: shader %q binding %d (%q) has no material or global value", m.sh.Name, i, b.Name)
		}
		write, err := globalWrite(set, uint32(i), b, g)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write)
	}
	return writes, nil
}

func materialWrite(set vk.DescriptorSet, binding uint32, b shader.Binding, bv bindingValue) (vk.WriteDescriptorSet, error) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  b.Kind.VkDescriptorType(),
	}
	switch b.Kind {
	case shader.ResourceUniformBuffer, shader.ResourceStorageBuffer:
		if bv.buffer == nil {
			return vk.WriteDescriptorSet{}, fmt.Errorf("bindpool: binding %d (%q) marked set but has no buffer", binding, b.Name)
		}
		write.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: bv.buffer.Handle(),
			Offset: vk.DeviceSize(bv.bufferOffset),
			Range:  vk.DeviceSize(bv.bufferRange),
		}}
	case shader.ResourceSampledTexture, shader.ResourceStorageImage:
		write.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   bv.imageView,
			Sampler:     bv.sampler,
			ImageLayout: bv.imageLayout,
		}}
	}
	return write, nil
}

func globalWrite(set vk.DescriptorSet, binding uint32, b shader.Binding, g GlobalBinding) (vk.WriteDescriptorSet, error) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  b.Kind.VkDescriptorType(),
	}
	switch b.Kind {
	case shader.ResourceUniformBuffer, shader.ResourceStorageBuffer:
		if g.Buffer == nil {
			return vk.WriteDescriptorSet{}, fmt.Errorf("bindpool: global binding %d (%q) marked set but has no buffer", binding, b.Name)
		}
		write.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: g.Buffer,
			Offset: vk.DeviceSize(g.BufferOffset),
			Range:  vk.DeviceSize(g.BufferRange),
		}}
	case shader.ResourceSampledTexture, shader.ResourceStorageImage:
		write.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   g.ImageView,
			Sampler:     g.Sampler,
			ImageLayout: g.ImageLayout,
		}}
	}
	return write, nil
}
