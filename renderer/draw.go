package renderer

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/bindpool"
	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/renderlist"
)

// MeshBinding resolves a render-list item's opaque mesh identity to the
// vertex/index buffers a draw call actually needs.
type MeshBinding struct {
	VertexBuffer vk.Buffer
	VertexOffset uint64
	IndexBuffer  vk.Buffer // nil for non-indexed meshes
	IndexType    vk.IndexType
}

// MaterialBinding resolves a render-list item's opaque material identity to
// the registered material and its vertex-format index.
type MaterialBinding struct {
	Material     *bindpool.Material
	VertexFormat uint32
}

// DrawList ensures the system-constants buffer and the packed instance-data
// buffer are both up to date and published as global bindings, sorts and
// batches the list, then walks the batches binding pipelines, pushing merged
// descriptor writes, and issuing one (indexed) draw per batch with the
// batch's summed instance count multiplied by instanceMultiplier (for
// stereo/multi-view duplication). A batch whose material has a binding with
// no material or global value is logged as critical and skipped; the
// remaining batches are still drawn.
func (r *Renderer) DrawList(cb vk.CommandBuffer, list *renderlist.List, systemData []byte, systemBuf *gpubuf.Buffer, instanceBuf *gpubuf.Buffer,
	renderPassIdx uint32, instanceMultiplier uint32,
	resolveMesh func(uintptr) MeshBinding, resolveMaterial func(uintptr) MaterialBinding) error {

	if systemBuf != nil {
		if err := systemBuf.Set(systemData); err != nil {
			return fmt.Errorf("renderer: draw list: write system buffer: %w", err)
		}
		r.SetGlobalConstants("$System", systemBuf.Handle(), 0, systemBuf.Size())
	}

	blob := list.InstanceBlob()
	if instanceBuf != nil && len(blob) > 0 {
		if err := instanceBuf.Set(blob); err != nil {
			return fmt.Errorf("renderer: draw list: write instance buffer: %w", err)
		}
		r.SetGlobalConstants("$Instance", instanceBuf.Handle(), 0, instanceBuf.Size())
	}

	if instanceMultiplier == 0 {
		instanceMultiplier = 1
	}

	globals := r.Globals()
	var lastPipeline vk.Pipeline

	for _, batch := range list.Batches() {
		mesh := resolveMesh(batch.Item.Mesh)
		matBind := resolveMaterial(batch.Item.Material)

		pipeline, err := r.cache.GetPipeline(matBind.Material.PipelineIndex(), renderPassIdx, matBind.VertexFormat)
		if err != nil {
			return fmt.Errorf("renderer: draw list: get pipeline: %w", err)
		}
		if pipeline != lastPipeline {
			vk.CmdBindPipeline(cb, vk.PipelineBindPointGraphics, pipeline)
			lastPipeline = pipeline
		}

		writes, err := bindpool.BuildDescriptorWrites(matBind.Material, nil, globals)
		if err != nil {
			corelog.Critical("renderer: draw list: %v; draw skipped", err)
			continue
		}
		layout := r.cache.MaterialPipelineLayout(matBind.Material.PipelineIndex())
		if len(writes) > 0 {
			vk.CmdPushDescriptorSetKHR(cb, vk.PipelineBindPointGraphics, layout, 0, uint32(len(writes)), writes)
		}

		vk.CmdBindVertexBuffers(cb, 0, 1, []vk.Buffer{mesh.VertexBuffer}, []vk.DeviceSize{vk.DeviceSize(mesh.VertexOffset)})

		instanceCount := batch.InstanceCount * instanceMultiplier
		if mesh.IndexBuffer != nil {
			vk.CmdBindIndexBuffer(cb, mesh.IndexBuffer, 0, mesh.IndexType)
			vk.CmdDrawIndexed(cb, batch.Item.IndexCount, instanceCount, batch.Item.FirstIndex, batch.Item.VertexOffset, batch.Item.FirstInstance)
		} else {
			vk.CmdDraw(cb, batch.Item.IndexCount, instanceCount, uint32(batch.Item.VertexOffset), batch.Item.FirstInstance)
		}
	}

	return nil
}
