package compute

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/shader"
)

func buildDescriptorSetLayout(dc DeviceContext, sh *shader.Shader) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(sh.Bindings))
	for i, b := range sh.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  b.Kind.VkDescriptorType(),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreatePushDescriptorBitKhr),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(dc.LogicalDevice(), &createInfo, dc.Allocator(), &layout); res != vk.Success {
		return nil, fmt.Errorf("vkCreateDescriptorSetLayout failed with %d", res)
	}
	return layout, nil
}

func buildPipelineLayout(dc DeviceContext, setLayout vk.DescriptorSetLayout) (vk.PipelineLayout, error) {
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(dc.LogicalDevice(), &createInfo, dc.Allocator(), &layout); res != vk.Success {
		return nil, fmt.Errorf("vkCreatePipelineLayout failed with %d", res)
	}
	return layout, nil
}

func buildComputePipeline(dc DeviceContext, sh *shader.Shader, layout vk.PipelineLayout) (vk.Pipeline, error) {
	module, ok := sh.Modules[shader.StageCompute]
	if !ok {
		return nil, fmt.Errorf("shader %q has no compute module", sh.Name)
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  "cs\x00",
		},
		Layout:            layout,
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(dc.LogicalDevice(), vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, dc.Allocator(), pipelines)
	if res != vk.Success {
		return nil, fmt.Errorf("vkCreateComputePipelines failed with %d", res)
	}
	return pipelines[0], nil
}

// Pipeline, PipelineLayout, SetLayout, and GlobalBuffer expose the objects
// Destroy would otherwise destroy immediately, for a caller that wants to
// enqueue them onto a deferred destroy list instead.
func (p *Program) Pipeline() vk.Pipeline                  { return p.pipeline }
func (p *Program) PipelineLayout() vk.PipelineLayout       { return p.pipelineLayout }
func (p *Program) SetLayout() vk.DescriptorSetLayout       { return p.setLayout }
func (p *Program) GlobalBuffer() *gpubuf.Buffer            { return p.globalGPU }

// Destroy releases the pipeline, its layout, and its descriptor-set layout.
func (p *Program) Destroy() {
	if p.pipeline != nil {
		vk.DestroyPipeline(p.dc.LogicalDevice(), p.pipeline, p.dc.Allocator())
	}
	if p.pipelineLayout != nil {
		vk.DestroyPipelineLayout(p.dc.LogicalDevice(), p.pipelineLayout, p.dc.Allocator())
	}
	if p.setLayout != nil {
		vk.DestroyDescriptorSetLayout(p.dc.LogicalDevice(), p.setLayout, p.dc.Allocator())
	}
	if p.globalGPU != nil {
		p.globalGPU.Destroy()
	}
}
