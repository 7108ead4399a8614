package pipelinecache

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/shader"
)

// DeviceContext is the seam into the Vulkan device this package needs. It is
// deliberately narrow — instance/device/swapchain bring-up is out of scope
// — so the cache only ever asks for the logical device handle, the
// allocator callbacks, and whether push descriptors are available.
type DeviceContext interface {
	LogicalDevice() vk.Device
	Allocator() *vk.AllocationCallbacks
	SupportsPushDescriptors() bool
}

func buildDescriptorSetLayout(dc DeviceContext, sh *shader.Shader) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(sh.Bindings))
	for i, b := range sh.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  b.Kind.VkDescriptorType(),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(b.StageMask.VkStageFlags()),
		}
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount:  uint32(len(bindings)),
		PBindings:     bindings,
	}
	if dc.SupportsPushDescriptors() {
		createInfo.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreatePushDescriptorBitKhr)
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

// buildRenderPass constructs a pass with up to three attachments (color,
// optional MSAA resolve, optional depth) and two external-to-subpass
// dependencies covering color-attachment-output and early/late fragment
// tests.
func buildRenderPass(dc DeviceContext, key RenderPassKey) (vk.RenderPass, error) {
	var attachments []vk.AttachmentDescription
	var colorRefs []vk.AttachmentReference
	var resolveRefs []vk.AttachmentReference
	var depthRef *vk.AttachmentReference

	colorRefs = append(colorRefs, vk.AttachmentReference{Attachment: uint32(len(attachments)), Layout: vk.ImageLayoutColorAttachmentOptimal})
	attachments = append(attachments, vk.AttachmentDescription{
		Format:         key.ColorFormat,
		Samples:        key.Samples,
		LoadOp:         key.ColorLoadOp,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	})

	if key.ResolveFormat != vk.FormatUndefined {
		resolveRefs = append(resolveRefs, vk.AttachmentReference{Attachment: uint32(len(attachments)), Layout: vk.ImageLayoutColorAttachmentOptimal})
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.ResolveFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	if key.DepthFormat != vk.FormatUndefined {
		ref := vk.AttachmentReference{Attachment: uint32(len(attachments)), Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
		depthRef = &ref
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.DepthFormat,
			Samples:        key.Samples,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        key.DepthStoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if len(resolveRefs) > 0 {
		subpass.PResolveAttachments = resolveRefs
	}
	if depthRef != nil {
		subpass.PDepthStencilAttachment = depthRef
	}

	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: 0,
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		},
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
			SrcAccessMask: 0,
			DstAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
		},
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var rp vk.RenderPass
	if res := vk.CreateRenderPass(dc.LogicalDevice(), &createInfo, dc.Allocator(), &rp); res != vk.Success {
		return nil, fmt.Errorf("vkCreateRenderPass failed with %d", res)
	}
	return rp, nil
}

// buildGraphicsPipeline constructs the pipeline at the intersection of a
// material, render pass, and vertex format, with dynamic viewport/scissor
// state, a single color-attachment blend derived from the material's blend
// (pass-through ONE/ZERO when disabled), and depth/stencil state derived
// from the write mask and compare ops.
func buildGraphicsPipeline(dc DeviceContext, mat MaterialKey, vf VertexFormat, rp vk.RenderPass, layout vk.PipelineLayout) (vk.Pipeline, error) {
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	if m, ok := mat.Shader.Modules[shader.StageVertex]; ok {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType: vk.StructureTypePipelineShaderStageCreateInfo,
			Stage: vk.ShaderStageVertexBit, Module: m, PName: "main\x00",
		})
	}
	if m, ok := mat.Shader.Modules[shader.StagePixel]; ok {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType: vk.StructureTypePipelineShaderStageCreateInfo,
			Stage: vk.ShaderStageFragmentBit, Module: m, PName: "main\x00",
		})
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding: 0, Stride: vf.Stride, InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(vf.Attributes)),
		PVertexAttributeDescriptions:    vf.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType: vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1, ScissorCount: 1,
	}

	cullMode := vk.CullModeFlags(vk.CullModeBackBit)
	switch mat.Cull {
	case CullNone:
		cullMode = vk.CullModeFlags(vk.CullModeNone)
	case CullFront:
		cullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	case CullFrontAndBack:
		cullMode = vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType: vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    cullMode,
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
		AlphaToCoverageEnable: vkBool(mat.AlphaToCoverage),
	}

	blend := mat.Blend
	attachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(mat.ColorWriteMask),
	}
	if blend.Enabled {
		attachment.BlendEnable = vk.True
		attachment.SrcColorBlendFactor = blend.SrcColor
		attachment.DstColorBlendFactor = blend.DstColor
		attachment.ColorBlendOp = blend.ColorOp
		attachment.SrcAlphaBlendFactor = blend.SrcAlpha
		attachment.DstAlphaBlendFactor = blend.DstAlpha
		attachment.AlphaBlendOp = blend.AlphaOp
	} else {
		attachment.BlendEnable = vk.False
		attachment.SrcColorBlendFactor = vk.BlendFactorOne
		attachment.DstColorBlendFactor = vk.BlendFactorZero
		attachment.ColorBlendOp = vk.BlendOpAdd
		attachment.SrcAlphaBlendFactor = vk.BlendFactorOne
		attachment.DstAlphaBlendFactor = vk.BlendFactorZero
		attachment.AlphaBlendOp = vk.BlendOpAdd
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{attachment},
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vkBool(mat.DepthTestWrite),
		DepthWriteEnable:      vkBool(mat.DepthTestWrite),
		DepthCompareOp:        mat.DepthCompare,
		StencilTestEnable:     vkBool(mat.StencilEnabled),
	}
	if mat.StencilEnabled {
		depthStencil.Front = vk.StencilOpState{
			FailOp: mat.StencilFront.FailOp, PassOp: mat.StencilFront.PassOp,
			DepthFailOp: mat.StencilFront.DepthFailOp, CompareOp: mat.StencilFront.CompareOp,
			CompareMask: mat.StencilFront.CompareMask, WriteMask: mat.StencilFront.WriteMask,
			Reference: mat.StencilFront.Reference,
		}
		depthStencil.Back = vk.StencilOpState{
			FailOp: mat.StencilBack.FailOp, PassOp: mat.StencilBack.PassOp,
			DepthFailOp: mat.StencilBack.DepthFailOp, CompareOp: mat.StencilBack.CompareOp,
			CompareMask: mat.StencilBack.CompareMask, WriteMask: mat.StencilBack.WriteMask,
			Reference: mat.StencilBack.Reference,
		}
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          rp,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(dc.LogicalDevice(), vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, dc.Allocator(), pipelines)
	if res != vk.Success {
		return nil, fmt.Errorf("vkCreateGraphicsPipelines failed with %d", res)
	}
	return pipelines[0], nil
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
