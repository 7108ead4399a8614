package renderer

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
)

// Attachment describes one color/depth target for BeginPass.
type Attachment struct {
	Texture  *imagelayout.Texture
	View     vk.ImageView
	Readable bool // transitioned to shader-read by EndPass
}

// PassDesc groups everything BeginPass needs to register a render pass,
// fetch or build its framebuffer, and issue vkCmdBeginRenderPass.
type PassDesc struct {
	Color   Attachment
	Resolve *Attachment
	Depth   *Attachment

	ColorFormat   vk.Format
	DepthFormat   vk.Format
	ResolveFormat vk.Format
	Samples       vk.SampleCountFlagBits
	ColorLoadOp   vk.AttachmentLoadOp
	DepthStoreOp  vk.AttachmentStoreOp

	Width, Height uint32
	ClearColor    [4]float32
	ClearDepth    float32
	ClearStencil  uint32
}

// BeginPass flushes every deferred transition queued since the previous
// pass, transitions the depth attachment (if present) to
// DEPTH_STENCIL_ATTACHMENT, registers (or reuses) the render pass and its
// framebuffer, records vkCmdBeginRenderPass, and then notes in the tracker
// that the color (and resolve) attachment is in COLOR_ATTACHMENT layout.
func (r *Renderer) BeginPass(cb vk.CommandBuffer, desc PassDesc) (renderPassIdx uint32, err error) {
	barriers := r.pending.Flush(vk.PipelineStageFragmentShaderBit)
	for _, b := range barriers {
		recordImageBarrier(cb, b)
	}

	if desc.Depth != nil {
		b := desc.Depth.Texture.Transition(imagelayout.DepthStencilAttachment,
			vk.PipelineStageEarlyFragmentTestsBit, vk.AccessDepthStencilAttachmentWriteBit)
		if !b.NoOp {
			recordImageBarrier(cb, b)
		}
	}

	rpKey := pipelinecache.RenderPassKey{
		ColorFormat: desc.ColorFormat, DepthFormat: desc.DepthFormat, ResolveFormat: desc.ResolveFormat,
		Samples: desc.Samples, ColorLoadOp: desc.ColorLoadOp, DepthStoreOp: desc.DepthStoreOp,
	}
	renderPassIdx, err = r.cache.RegisterRenderPass(rpKey)
	if err != nil {
		return 0, fmt.Errorf("renderer: begin pass: %w", err)
	}
	rp := r.cache.RenderPassHandle(renderPassIdx)

	texKey := uintptr(unsafe.Pointer(desc.Color.Texture))
	fb := r.cache.GetFramebuffer(texKey, renderPassIdx)
	if fb == nil {
		views := []vk.ImageView{desc.Color.View}
		if desc.Resolve != nil {
			views = append(views, desc.Resolve.View)
		}
		if desc.Depth != nil {
			views = append(views, desc.Depth.View)
		}
		fb, err = r.backend.CreateFramebuffer(rp, views, desc.Width, desc.Height)
		if err != nil {
			return 0, fmt.Errorf("renderer: begin pass: create framebuffer: %w", err)
		}
		r.cache.PutFramebuffer(texKey, renderPassIdx, fb)
	}

	clears := []vk.ClearValue{
		vk.NewClearValue([]float32{desc.ClearColor[0], desc.ClearColor[1], desc.ClearColor[2], desc.ClearColor[3]}),
	}
	if desc.Depth != nil {
		clears = append(clears, vk.NewClearDepthStencil(desc.ClearDepth, desc.ClearStencil))
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: desc.Width, Height: desc.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(cb, &beginInfo, vk.SubpassContentsInline)
	if desc.Color.Texture != nil {
		desc.Color.Texture.NotifyLayout(imagelayout.ColorAttachment)
	}
	if desc.Resolve != nil && desc.Resolve.Texture != nil {
		desc.Resolve.Texture.NotifyLayout(imagelayout.ColorAttachment)
	}
	return renderPassIdx, nil
}

// EndPass records vkCmdEndRenderPass and immediately transitions every
// attachment marked Readable to SHADER_READ_ONLY, since the pass that just
// ended is the last writer and nothing else in the frame needs to observe
// the transition before this point.
func (r *Renderer) EndPass(cb vk.CommandBuffer, desc PassDesc) {
	vk.CmdEndRenderPass(cb)

	if desc.Color.Readable {
		b := desc.Color.Texture.TransitionForShaderRead(vk.PipelineStageFragmentShaderBit)
		if !b.NoOp {
			recordImageBarrier(cb, b)
		}
	}
	if desc.Resolve != nil && desc.Resolve.Readable {
		b := desc.Resolve.Texture.TransitionForShaderRead(vk.PipelineStageFragmentShaderBit)
		if !b.NoOp {
			recordImageBarrier(cb, b)
		}
	}
	if desc.Depth != nil && desc.Depth.Readable {
		b := desc.Depth.Texture.TransitionForShaderRead(vk.PipelineStageFragmentShaderBit)
		if !b.NoOp {
			recordImageBarrier(cb, b)
		}
	}
}

func recordImageBarrier(cb vk.CommandBuffer, b imagelayout.Barrier) {
	srcFamily := b.SrcQueueFamily
	dstFamily := b.DstQueueFamily
	if srcFamily == 0 && dstFamily == 0 {
		srcFamily = vk.QueueFamilyIgnored
		dstFamily = vk.QueueFamilyIgnored
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
		DstAccessMask:       vk.AccessFlags(b.DstAccess),
		OldLayout:           b.OldLayout,
		NewLayout:           b.NewLayout,
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		Image:               b.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(b.AspectMask), LevelCount: 1, LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(b.SrcStage), vk.PipelineStageFlags(b.DstStage), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
