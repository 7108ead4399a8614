package bindpool

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
	"github.com/NOT-REAL-GAMES/skr/shader"
)

// DefaultTextureProvider resolves a shader's named default-texture fallback
// (white, black, gray) to a real view+sampler pair, used to populate a
// material's sampled bindings before the caller ever calls SetTexture.
type DefaultTextureProvider interface {
	DefaultTexture(d shader.Default) (vk.ImageView, vk.Sampler)
}

// bindingValue is the material's CPU-side mirror of one reflected binding.
// It is empty (set=false) until the caller writes it via SetTexture or
// SetBuffer, at which point the descriptor-write builder has something to
// merge in.
type bindingValue struct {
	kind shader.ResourceKind
	set  bool

	buffer       *gpubuf.Buffer
	bufferOffset uint64
	bufferRange  uint64

	imageView   vk.ImageView
	sampler     vk.Sampler
	imageLayout vk.ImageLayout
}

// Material is one material instance: its pipeline-affecting key (registered
// with the pipeline cache), its bind-pool descriptor range, its CPU mirror
// of the $Global uniform block, and the per-binding resource table the
// descriptor-write builder reads from.
type Material struct {
	mu sync.Mutex

	sh          *shader.Shader
	pipelineIdx uint32

	paramBuf []byte // CPU mirror of $Global; nil if the shader has no block
	bindings []bindingValue

	rangeStart uint32
	rangeCount uint32

	hasSystemBuffer bool
	instanceStride  uint32
}

// Pool owns the bind-pool slab and the pipeline cache materials register
// into. One Pool exists per engine instance.
type Pool struct {
	mu    sync.Mutex
	slab  *Slab
	cache *pipelinecache.Cache
	dtp   DefaultTextureProvider
}

func NewPool(capacity uint32, cache *pipelinecache.Cache, dtp DefaultTextureProvider) *Pool {
	return &Pool{slab: NewSlab(capacity), cache: cache, dtp: dtp}
}

func (p *Pool) Slab() *Slab { return p.slab }

// CreateMaterial runs material creation: register the pipeline-affecting
// key, size the CPU $Global mirror, seed default-texture fallbacks for
// sampled bindings that declare one, and reserve a bind-pool range sized to
// the shader's buffer and resource counts (plus one slot for a system
// buffer, if requested).
func (p *Pool) CreateMaterial(sh *shader.Shader, key pipelinecache.MaterialKey, hasSystemBuffer bool, instanceStride uint32) (*Material, error) {
	pipelineIdx, err := p.cache.RegisterMaterial(key)
	if err != nil {
		return nil, fmt.Errorf("bindpool: create material: %w", err)
	}

	m := &Material{
		sh:              sh,
		pipelineIdx:     pipelineIdx,
		bindings:        make([]bindingValue, len(sh.Bindings)),
		hasSystemBuffer: hasSystemBuffer,
		instanceStride:  instanceStride,
	}

	if sh.Global != nil {
		m.paramBuf = make([]byte, sh.Global.Size)
		if sh.Global.Default != nil {
			copy(m.paramBuf, sh.Global.Default)
		}
	}

	for i, b := range sh.Bindings {
		m.bindings[i].kind = b.Kind
		if b.DefaultTex != shader.DefaultNone && p.dtp != nil {
			view, sampler := p.dtp.DefaultTexture(b.DefaultTex)
			m.bindings[i].imageView = view
			m.bindings[i].sampler = sampler
			m.bindings[i].imageLayout = vk.ImageLayoutShaderReadOnlyOptimal
			m.bindings[i].set = true
		}
	}

	slots := sh.BufferCount() + sh.ResourceCount()
	if hasSystemBuffer {
		slots++
	}
	if slots > 0 {
		p.mu.Lock()
		start, err := p.slab.Alloc(uint32(slots))
		p.mu.Unlock()
		if err != nil {
			p.cache.UnregisterMaterial(pipelineIdx)
			return nil, fmt.Errorf("bindpool: create material: %w", err)
		}
		m.rangeStart = start
		m.rangeCount = uint32(slots)
	}

	return m, nil
}

func (m *Material) PipelineIndex() uint32 { return m.pipelineIdx }
func (m *Material) Range() (start, count uint32) {
	return m.rangeStart, m.rangeCount
}

// SetTexture binds a sampled texture or storage image to the named binding.
func (m *Material) SetTexture(name string, view vk.ImageView, sampler vk.Sampler, layout vk.ImageLayout) error {
	idx, ok := m.sh.BindingByName(name)
	if !ok {
		return fmt.Errorf("bindpool: no binding named %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &m.bindings[idx]
	if b.kind != shader.ResourceSampledTexture && b.kind != shader.ResourceStorageImage {
		return fmt.Errorf("bindpool: binding %q is not a texture binding", name)
	}
	b.imageView = view
	b.sampler = sampler
	b.imageLayout = layout
	b.set = true
	return nil
}

// SetBuffer binds a uniform or storage buffer to the named binding.
func (m *Material) SetBuffer(name string, buf *gpubuf.Buffer, offset, rng uint64) error {
	idx, ok := m.sh.BindingByName(name)
	if !ok {
		return fmt.Errorf("bindpool: no binding named %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &m.bindings[idx]
	if b.kind != shader.ResourceUniformBuffer && b.kind != shader.ResourceStorageBuffer {
		return fmt.Errorf("bindpool: binding %q is not a buffer binding", name)
	}
	b.buffer = buf
	b.bufferOffset = offset
	b.bufferRange = rng
	b.set = true
	return nil
}

// SetParam writes raw bytes into the named $Global member at its reflected
// offset, truncated to the member's declared size.
func (m *Material) SetParam(name string, data []byte) error {
	param := m.sh.ParamByName(name)
	if param == nil {
		return fmt.Errorf("bindpool: no $Global param named %q", name)
	}
	size := param.Type.Size()
	if size == 0 {
		size = param.Count
	}
	if len(data) < size {
		return fmt.Errorf("bindpool: param %q needs %d bytes, got %d", name, size, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.paramBuf[param.Offset:param.Offset+size], data[:size])
	return nil
}

// SetParams writes several $Global members in one call, stopping at the
// first unknown name.
func (m *Material) SetParams(values map[string][]byte) error {
	for name, data := range values {
		if err := m.SetParam(name, data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Material) ParamBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paramBuf
}

// Destroy unregisters the material from the pipeline cache and releases its
// CPU parameter buffer immediately. The bind-pool range itself is not freed
// here — the caller defers that onto the active command slot's destroy list
// via destroylist.Entry{Kind: KindBindPoolRange} so in-flight draws that
// still reference the range finish before its slots are reused.
func (m *Material) Destroy(cache *pipelinecache.Cache) {
	cache.UnregisterMaterial(m.pipelineIdx)
	m.mu.Lock()
	m.paramBuf = nil
	m.bindings = nil
	m.mu.Unlock()
}

func (p *Pool) ReleaseRange(start, count uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slab.Free(start, count)
}
