// Package compute implements C8: the compute program, its $Global CPU+GPU
// mirror, and dispatch with automatic resource transitions.
package compute

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
	"github.com/NOT-REAL-GAMES/skr/shader"
)

// DeviceContext is the seam into the device a compute program needs: set and
// pipeline layout creation, the compute pipeline itself, and whether push
// descriptors are available. Dispatch requires push descriptors; a device
// without them is reported as unsupported at creation time rather than
// failing silently on first Dispatch.
type DeviceContext interface {
	LogicalDevice() vk.Device
	Allocator() *vk.AllocationCallbacks
	SupportsPushDescriptors() bool
}

type bindingValue struct {
	kind shader.ResourceKind
	set  bool

	buffer       *gpubuf.Buffer
	bufferOffset uint64
	bufferRange  uint64

	imageView   vk.ImageView
	sampler     vk.Sampler
	imageLayout vk.ImageLayout

	texture *imagelayout.Texture // non-nil for image bindings, enables auto-transition
}

// Program is one compute program: its pipeline, its reflected binding table,
// and the CPU mirror of its optional $Global block.
type Program struct {
	mu sync.Mutex

	dc DeviceContext
	sh *shader.Shader

	setLayout      vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout
	pipeline       vk.Pipeline

	bindings []bindingValue

	globalCPU   []byte
	globalGPU   *gpubuf.Buffer
	globalDirty bool
}

// Create builds the descriptor-set layout from the shader's reflected
// buffer/resource bindings, the pipeline layout, and the compute pipeline
// itself with entry point "cs". If the shader declares a $Global block, a
// dynamic uniform buffer is allocated as its GPU mirror.
func Create(dc DeviceContext, dev gpubuf.Device, sh *shader.Shader) (*Program, error) {
	if !dc.SupportsPushDescriptors() {
		return nil, fmt.Errorf("compute: device does not support push descriptors")
	}
	if sh.Stages&shader.StageCompute == 0 {
		return nil, fmt.Errorf("compute: shader %q has no compute stage", sh.Name)
	}

	setLayout, err := buildDescriptorSetLayout(dc, sh)
	if err != nil {
		return nil, fmt.Errorf("compute: create %q: %w", sh.Name, err)
	}
	pipelineLayout, err := buildPipelineLayout(dc, setLayout)
	if err != nil {
		return nil, fmt.Errorf("compute: create %q: %w", sh.Name, err)
	}
	pipeline, err := buildComputePipeline(dc, sh, pipelineLayout)
	if err != nil {
		return nil, fmt.Errorf("compute: create %q: %w", sh.Name, err)
	}

	p := &Program{
		dc:             dc,
		sh:             sh,
		setLayout:      setLayout,
		pipelineLayout: pipelineLayout,
		pipeline:       pipeline,
		bindings:       make([]bindingValue, len(sh.Bindings)),
	}
	for i, b := range sh.Bindings {
		p.bindings[i].kind = b.Kind
	}

	if sh.Global != nil {
		p.globalCPU = make([]byte, sh.Global.Size)
		if sh.Global.Default != nil {
			copy(p.globalCPU, sh.Global.Default)
		}
		buf, err := gpubuf.Create(dev, nil, uint32(sh.Global.Size), 1, gpubuf.TypeConstant, gpubuf.UseDynamic)
		if err != nil {
			return nil, fmt.Errorf("compute: create %q: global buffer: %w", sh.Name, err)
		}
		p.globalGPU = buf
		p.globalDirty = true
	}

	return p, nil
}

// SetTexture binds a sampled texture or storage image to the named binding.
// tex is retained so Dispatch can auto-transition it before recording the
// dispatch.
func (p *Program) SetTexture(name string, tex *imagelayout.Texture, view vk.ImageView, sampler vk.Sampler) error {
	idx, ok := p.sh.BindingByName(name)
	if !ok {
		return fmt.Errorf("compute: no binding named %q", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &p.bindings[idx]
	if b.kind != shader.ResourceSampledTexture && b.kind != shader.ResourceStorageImage {
		return fmt.Errorf("compute: binding %q is not a texture binding", name)
	}
	b.texture = tex
	b.imageView = view
	b.sampler = sampler
	b.set = true
	return nil
}

// SetBuffer binds a uniform or storage buffer to the named binding.
func (p *Program) SetBuffer(name string, buf *gpubuf.Buffer, offset, rng uint64) error {
	idx, ok := p.sh.BindingByName(name)
	if !ok {
		return fmt.Errorf("compute: no binding named %q", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &p.bindings[idx]
	if b.kind != shader.ResourceUniformBuffer && b.kind != shader.ResourceStorageBuffer {
		return fmt.Errorf("compute: binding %q is not a buffer binding", name)
	}
	b.buffer = buf
	b.bufferOffset = offset
	b.bufferRange = rng
	b.set = true
	return nil
}

// SetParam writes raw bytes into the named $Global member and marks the GPU
// mirror dirty so the next Dispatch writes it through.
func (p *Program) SetParam(name string, data []byte) error {
	param := p.sh.ParamByName(name)
	if param == nil {
		return fmt.Errorf("compute: no $Global param named %q", name)
	}
	size := param.Type.Size()
	if size == 0 {
		size = param.Count
	}
	if len(data) < size {
		return fmt.Errorf("compute: param %q needs %d bytes, got %d", name, size, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.globalCPU[param.Offset:param.Offset+size], data[:size])
	p.globalDirty = true
	return nil
}

func (p *Program) descriptorWrites(set vk.DescriptorSet) ([]vk.WriteDescriptorSet, []imagelayout.Barrier, error) {
	writes := make([]vk.WriteDescriptorSet, 0, len(p.bindings))
	var barriers []imagelayout.Barrier

	for i, b := range p.sh.Bindings {
		bv := p.bindings[i]
		if !bv.set {
			if b.Name == "$Global" {
				continue
			}
			return nil, nil, fmt.Errorf("compute: binding %d (%q) has no value set", i, b.Name)
		}

		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  b.Kind.VkDescriptorType(),
		}
		switch b.Kind {
		case shader.ResourceUniformBuffer, shader.ResourceStorageBuffer:
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: bv.buffer.Handle(), Offset: vk.DeviceSize(bv.bufferOffset), Range: vk.DeviceSize(bv.bufferRange),
			}}
		case shader.ResourceSampledTexture:
			if bv.texture != nil {
				barrier := bv.texture.TransitionForShaderRead(vk.PipelineStageComputeShaderBit)
				if !barrier.NoOp {
					barriers = append(barriers, barrier)
				}
			}
			layout := vk.ImageLayoutShaderReadOnlyOptimal
			if bv.texture != nil && bv.texture.IsStorage {
				layout = vk.ImageLayoutGeneral
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView: bv.imageView, Sampler: bv.sampler, ImageLayout: layout,
			}}
		case shader.ResourceStorageImage:
			if bv.texture != nil {
				barrier := bv.texture.TransitionForStorage()
				if !barrier.NoOp {
					barriers = append(barriers, barrier)
				}
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView: bv.imageView, Sampler: bv.sampler, ImageLayout: vk.ImageLayoutGeneral,
			}}
		}
		writes = append(writes, write)
	}
	return writes, barriers, nil
}

// Dispatch records a compute dispatch: it writes through a dirty $Global,
// acquires a command slot, auto-transitions every bound image resource,
// binds the pipeline and pushes the merged descriptor writes, issues
// vkCmdDispatch, and appends a trailing memory barrier so a subsequent
// reader of the written storage resources observes a completed write.
func (p *Program) Dispatch(ring *cmdring.Ring, x, y, z uint32) error {
	p.mu.Lock()
	if p.globalDirty && p.globalGPU != nil {
		if err := p.globalGPU.Set(p.globalCPU); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("compute: dispatch: write global: %w", err)
		}
		p.globalDirty = false
	}
	writes, barriers, err := p.descriptorWrites(nil)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("compute: dispatch: %w", err)
	}

	slot, idx, err := ring.Acquire()
	if err != nil {
		return fmt.Errorf("compute: dispatch: acquire command buffer: %w", err)
	}

	for _, b := range barriers {
		recordBarrier(slot.Handle, b)
	}

	vk.CmdBindPipeline(slot.Handle, vk.PipelineBindPointCompute, p.pipeline)
	if len(writes) > 0 {
		vk.CmdPushDescriptorSetKHR(slot.Handle, vk.PipelineBindPointCompute, p.pipelineLayout, 0, uint32(len(writes)), writes)
	}
	vk.CmdDispatch(slot.Handle, x, y, z)

	recordTrailingBarrier(slot.Handle)

	if err := ring.Release(idx); err != nil {
		return fmt.Errorf("compute: dispatch: release command buffer: %w", err)
	}
	return nil
}

// DispatchIndirect is identical to Dispatch except the dispatch dimensions
// come from argsBuffer at the given byte offset, and no trailing barrier is
// appended: a later reader of storage resources this dispatch writes must
// record its own barrier.
func (p *Program) DispatchIndirect(ring *cmdring.Ring, argsBuffer *gpubuf.Buffer, offset uint64) error {
	p.mu.Lock()
	if p.globalDirty && p.globalGPU != nil {
		if err := p.globalGPU.Set(p.globalCPU); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("compute: dispatch indirect: write global: %w", err)
		}
		p.globalDirty = false
	}
	writes, barriers, err := p.descriptorWrites(nil)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("compute: dispatch indirect: %w", err)
	}

	slot, idx, err := ring.Acquire()
	if err != nil {
		return fmt.Errorf("compute: dispatch indirect: acquire command buffer: %w", err)
	}

	for _, b := range barriers {
		recordBarrier(slot.Handle, b)
	}

	vk.CmdBindPipeline(slot.Handle, vk.PipelineBindPointCompute, p.pipeline)
	if len(writes) > 0 {
		vk.CmdPushDescriptorSetKHR(slot.Handle, vk.PipelineBindPointCompute, p.pipelineLayout, 0, uint32(len(writes)), writes)
	}
	vk.CmdDispatchIndirect(slot.Handle, argsBuffer.Handle(), vk.DeviceSize(offset))

	if err := ring.Release(idx); err != nil {
		return fmt.Errorf("compute: dispatch indirect: release command buffer: %w", err)
	}
	return nil
}

func recordBarrier(cb vk.CommandBuffer, b imagelayout.Barrier) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
		DstAccessMask:       vk.AccessFlags(b.DstAccess),
		OldLayout:           b.OldLayout,
		NewLayout:           b.NewLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               b.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(b.AspectMask), LevelCount: 1, LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(b.SrcStage), vk.PipelineStageFlags(b.DstStage), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func recordTrailingBarrier(cb vk.CommandBuffer) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessMemoryReadBit),
	}
	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), 0,
		1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}
