package renderer

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
)

// BlitDest is the destination of a fullscreen-triangle blit. LayerCount > 1
// targets a cubemap or array texture: one sub-pass per layer, each against a
// fresh single-layer image view the caller constructs via MakeLayerView.
type BlitDest struct {
	Texture     *imagelayout.Texture
	View        vk.ImageView // used directly when LayerCount == 1
	Width       uint32
	Height      uint32
	Format      vk.Format
	LayerCount  uint32
	MakeLayerView func(layer uint32) (vk.ImageView, error)
}

// Blit draws a fullscreen triangle into dst using the already-built pipeline
// and pushed descriptor writes (the blit material is registered like any
// other material; callers construct it once at startup and pass its
// resolved pipeline/layout/writes in here). Per-layer image views created
// for a cubemap/array destination are deferred onto slot's destroy list
// rather than destroyed inline, since the render pass that reads them may
// still be in flight when Blit returns.
func (r *Renderer) Blit(cb vk.CommandBuffer, slot *cmdring.Slot, pipeline vk.Pipeline, layout vk.PipelineLayout, writes []vk.WriteDescriptorSet, dst BlitDest) error {
	layers := dst.LayerCount
	if layers == 0 {
		layers = 1
	}

	rpKey := pipelinecache.RenderPassKey{
		ColorFormat: dst.Format, Samples: vk.SampleCount1Bit, ColorLoadOp: vk.AttachmentLoadOpDontCare,
	}
	renderPassIdx, err := r.cache.RegisterRenderPass(rpKey)
	if err != nil {
		return fmt.Errorf("renderer: blit: %w", err)
	}
	rp := r.cache.RenderPassHandle(renderPassIdx)

	for layer := uint32(0); layer < layers; layer++ {
		view := dst.View
		if layers > 1 {
			view, err = dst.MakeLayerView(layer)
			if err != nil {
				return fmt.Errorf("renderer: blit: layer %d view: %w", layer, err)
			}
			slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindImageView, View: view})
		}

		fbKey := uintptr(view)
		fb := r.cache.GetFramebuffer(fbKey, renderPassIdx)
		if fb == nil {
			fb, err = r.backend.CreateFramebuffer(rp, []vk.ImageView{view}, dst.Width, dst.Height)
			if err != nil {
				return fmt.Errorf("renderer: blit: layer %d framebuffer: %w", layer, err)
			}
			r.cache.PutFramebuffer(fbKey, renderPassIdx, fb)
		}

		beginInfo := vk.RenderPassBeginInfo{
			SType: vk.StructureTypeRenderPassBeginInfo, RenderPass: rp, Framebuffer: fb,
			RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: dst.Width, Height: dst.Height}},
			ClearValueCount: 1,
			PClearValues:    []vk.ClearValue{vk.NewClearValue([]float32{0, 0, 0, 0})},
		}
		vk.CmdBeginRenderPass(cb, &beginInfo, vk.SubpassContentsInline)

		viewport := vk.Viewport{Width: float32(dst.Width), Height: float32(dst.Height), MinDepth: 0, MaxDepth: 1}
		scissor := vk.Rect2D{Extent: vk.Extent2D{Width: dst.Width, Height: dst.Height}}
		vk.CmdSetViewport(cb, 0, 1, []vk.Viewport{viewport})
		vk.CmdSetScissor(cb, 0, 1, []vk.Rect2D{scissor})

		vk.CmdBindPipeline(cb, vk.PipelineBindPointGraphics, pipeline)
		if len(writes) > 0 {
			vk.CmdPushDescriptorSetKHR(cb, vk.PipelineBindPointGraphics, layout, 0, uint32(len(writes)), writes)
		}
		// Fullscreen triangle: 3 vertices, no vertex buffer, positions
		// generated in the vertex shader from gl_VertexIndex.
		vk.CmdDraw(cb, 3, 1, 0, 0)

		vk.CmdEndRenderPass(cb)
	}

	return nil
}
