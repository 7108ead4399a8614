// Package pipelinecache implements C6: the material/render-pass/vertex-format
// interning tables and the 3D lazy pipeline cache built from their indices,
// plus the epoch-tagged per-render-pass framebuffer cache.
package pipelinecache

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
)

// pipelineKey indexes the 3D pipeline cache by the three interned indices
// that together determine a unique graphics pipeline.
type pipelineKey struct {
	material   uint32
	renderPass uint32
	vertex     uint32
}

// Cache owns the three interning tables and the pipelines built from them.
// Registration and unregistration take the write lock; lookups take the read
// lock, so concurrent cache hits never block each other, while a pipeline
// lookup that misses takes the write lock to build the pipeline.
type Cache struct {
	dc DeviceContext

	mu sync.RWMutex

	materials      map[MaterialKey]uint32
	materialByIdx  []MaterialKey
	materialLayout []vk.DescriptorSetLayout
	materialPLayout []vk.PipelineLayout
	materialFree   []uint32

	renderPasses     map[RenderPassKey]uint32
	renderPassByIdx  []RenderPassKey
	renderPassHandle []vk.RenderPass
	renderPassFree   []uint32
	renderPassEpoch  []uint64 // bumped on unregister, invalidates framebuffer cache entries

	vertexFormats    map[string]uint32
	vertexFormatByIdx []VertexFormat
	vertexFormatFree []uint32

	pipelines map[pipelineKey]vk.Pipeline

	framebuffers map[fbKey]fbEntry
	epochCounter uint64
}

const invalidIndex = ^uint32(0)

func New(dc DeviceContext) *Cache {
	return &Cache{
		dc:           dc,
		materials:    make(map[MaterialKey]uint32),
		renderPasses: make(map[RenderPassKey]uint32),
		vertexFormats: make(map[string]uint32),
		pipelines:    make(map[pipelineKey]vk.Pipeline),
		framebuffers: make(map[fbKey]fbEntry),
	}
}

// RegisterMaterial interns a material key, building its descriptor-set and
// pipeline layout only on first registration. Two bytewise-equal keys always
// return the same index.
func (c *Cache) RegisterMaterial(key MaterialKey) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.materials[key]; ok {
		return idx, nil
	}

	setLayout, err := buildDescriptorSetLayout(c.dc, key.Shader)
	if err != nil {
		return 0, fmt.Errorf("pipelinecache: register material: %w", err)
	}
	pLayout, err := buildPipelineLayout(c.dc, setLayout)
	if err != nil {
		return 0, fmt.Errorf("pipelinecache: register material: %w", err)
	}

	idx := c.allocMaterialSlot()
	c.materials[key] = idx
	c.materialByIdx[idx] = key
	c.materialLayout[idx] = setLayout
	c.materialPLayout[idx] = pLayout
	return idx, nil
}

func (c *Cache) allocMaterialSlot() uint32 {
	if n := len(c.materialFree); n > 0 {
		idx := c.materialFree[n-1]
		c.materialFree = c.materialFree[:n-1]
		return idx
	}
	idx := uint32(len(c.materialByIdx))
	c.materialByIdx = append(c.materialByIdx, MaterialKey{})
	c.materialLayout = append(c.materialLayout, nil)
	c.materialPLayout = append(c.materialPLayout, nil)
	return idx
}

// UnregisterMaterial destroys the material's layouts and every pipeline
// keyed on it.
func (c *Cache) UnregisterMaterial(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.materialByIdx[idx]
	delete(c.materials, key)

	for pk, pipe := range c.pipelines {
		if pk.material == idx {
			vk.DestroyPipeline(c.dc.LogicalDevice(), pipe, c.dc.Allocator())
			delete(c.pipelines, pk)
		}
	}

	if c.materialPLayout[idx] != nil {
		vk.DestroyPipelineLayout(c.dc.LogicalDevice(), c.materialPLayout[idx], c.dc.Allocator())
	}
	if c.materialLayout[idx] != nil {
		vk.DestroyDescriptorSetLayout(c.dc.LogicalDevice(), c.materialLayout[idx], c.dc.Allocator())
	}
	c.materialLayout[idx] = nil
	c.materialPLayout[idx] = nil
	c.materialByIdx[idx] = MaterialKey{}
	c.materialFree = append(c.materialFree, idx)
}

func (c *Cache) MaterialDescriptorSetLayout(idx uint32) vk.DescriptorSetLayout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.materialLayout[idx]
}

func (c *Cache) MaterialPipelineLayout(idx uint32) vk.PipelineLayout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.materialPLayout[idx]
}

// RegisterRenderPass interns a render-pass key, building the vk.RenderPass
// only on first registration.
func (c *Cache) RegisterRenderPass(key RenderPassKey) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.renderPasses[key]; ok {
		return idx, nil
	}

	rp, err := buildRenderPass(c.dc, key)
	if err != nil {
		return 0, fmt.Errorf("pipelinecache: register render pass: %w", err)
	}

	idx := c.allocRenderPassSlot()
	c.renderPasses[key] = idx
	c.renderPassByIdx[idx] = key
	c.renderPassHandle[idx] = rp
	return idx, nil
}

func (c *Cache) allocRenderPassSlot() uint32 {
	if n := len(c.renderPassFree); n > 0 {
		idx := c.renderPassFree[n-1]
		c.renderPassFree = c.renderPassFree[:n-1]
		return idx
	}
	idx := uint32(len(c.renderPassByIdx))
	c.renderPassByIdx = append(c.renderPassByIdx, RenderPassKey{})
	c.renderPassHandle = append(c.renderPassHandle, nil)
	c.renderPassEpoch = append(c.renderPassEpoch, 0)
	return idx
}

// UnregisterRenderPass destroys the render pass, every pipeline built
// against it, and bumps its epoch so cached framebuffers referencing it are
// invalidated rather than reused against a stale handle.
func (c *Cache) UnregisterRenderPass(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.renderPassByIdx[idx]
	delete(c.renderPasses, key)

	for pk, pipe := range c.pipelines {
		if pk.renderPass == idx {
			vk.DestroyPipeline(c.dc.LogicalDevice(), pipe, c.dc.Allocator())
			delete(c.pipelines, pk)
		}
	}

	for fk := range c.framebuffers {
		if fk.renderPass == idx {
			delete(c.framebuffers, fk)
		}
	}

	if c.renderPassHandle[idx] != nil {
		vk.DestroyRenderPass(c.dc.LogicalDevice(), c.renderPassHandle[idx], c.dc.Allocator())
	}
	c.renderPassHandle[idx] = nil
	c.renderPassByIdx[idx] = RenderPassKey{}
	c.renderPassEpoch[idx]++
	c.renderPassFree = append(c.renderPassFree, idx)
}

func (c *Cache) RenderPassHandle(idx uint32) vk.RenderPass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renderPassHandle[idx]
}

// RegisterVertexFormat interns a vertex format by its canonical encoding.
func (c *Cache) RegisterVertexFormat(vf VertexFormat) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := vf.encode()
	if idx, ok := c.vertexFormats[key]; ok {
		return idx
	}

	var idx uint32
	if n := len(c.vertexFormatFree); n > 0 {
		idx = c.vertexFormatFree[n-1]
		c.vertexFormatFree = c.vertexFormatFree[:n-1]
		c.vertexFormatByIdx[idx] = vf
	} else {
		idx = uint32(len(c.vertexFormatByIdx))
		c.vertexFormatByIdx = append(c.vertexFormatByIdx, vf)
	}
	c.vertexFormats[key] = idx
	return idx
}

// UnregisterVertexFormat destroys every pipeline keyed on it.
func (c *Cache) UnregisterVertexFormat(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.vertexFormatByIdx[idx].encode()
	delete(c.vertexFormats, key)

	for pk, pipe := range c.pipelines {
		if pk.vertex == idx {
			vk.DestroyPipeline(c.dc.LogicalDevice(), pipe, c.dc.Allocator())
			delete(c.pipelines, pk)
		}
	}

	c.vertexFormatByIdx[idx] = VertexFormat{}
	c.vertexFormatFree = append(c.vertexFormatFree, idx)
}

// GetPipeline returns the pipeline at the (material, renderPass, vertex)
// intersection, building it lazily on first request.
func (c *Cache) GetPipeline(materialIdx, renderPassIdx, vertexIdx uint32) (vk.Pipeline, error) {
	key := pipelineKey{materialIdx, renderPassIdx, vertexIdx}

	c.mu.RLock()
	if p, ok := c.pipelines[key]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[key]; ok {
		return p, nil
	}

	mat := c.materialByIdx[materialIdx]
	rp := c.renderPassHandle[renderPassIdx]
	vf := c.vertexFormatByIdx[vertexIdx]
	layout := c.materialPLayout[materialIdx]

	pipe, err := buildGraphicsPipeline(c.dc, mat, vf, rp, layout)
	if err != nil {
		return nil, fmt.Errorf("pipelinecache: build pipeline: %w", err)
	}
	c.pipelines[key] = pipe
	return pipe, nil
}

// fbKey and fbEntry implement the epoch-tagged framebuffer cache: a
// framebuffer is keyed by (texture identity, render pass index) and is
// invalidated whenever that render pass's epoch advances past the one it was
// built under, rather than chasing every texture that might reference a
// destroyed render pass.
type fbKey struct {
	texture    uintptr
	renderPass uint32
}

type fbEntry struct {
	handle vk.Framebuffer
	epoch  uint64
}

// GetFramebuffer returns a cached framebuffer for (texture, renderPassIdx) if
// it was built under the render pass's current epoch, or nil if the caller
// must build and store a fresh one via PutFramebuffer.
func (c *Cache) GetFramebuffer(texture uintptr, renderPassIdx uint32) vk.Framebuffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := fbKey{texture, renderPassIdx}
	entry, ok := c.framebuffers[key]
	if !ok || entry.epoch != c.renderPassEpoch[renderPassIdx] {
		return nil
	}
	return entry.handle
}

func (c *Cache) PutFramebuffer(texture uintptr, renderPassIdx uint32, handle vk.Framebuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framebuffers[fbKey{texture, renderPassIdx}] = fbEntry{handle: handle, epoch: c.renderPassEpoch[renderPassIdx]}
}

// InvalidateAllFramebuffers bumps every registered render pass's epoch,
// making every cached framebuffer stale in one pass. Used after a swapchain
// resize, where every framebuffer referencing the old swapchain images must
// be rebuilt regardless of which render pass it was built against.
func (c *Cache) InvalidateAllFramebuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.renderPassEpoch {
		c.renderPassEpoch[i]++
	}
}
