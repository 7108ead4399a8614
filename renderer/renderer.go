// Package renderer implements C10: the frame renderer. It owns frame
// begin/end with GPU timing, render-pass begin/end built on the pipeline
// and framebuffer caches, the fullscreen blit, and the name-keyed global
// binding table that feeds every material's descriptor writes on the
// render-list draw path (compute programs do not read it).
package renderer

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/bindpool"
	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
)

// Backend is the seam into the device and surface the frame renderer needs,
// layered on top of pipelinecache.DeviceContext.
type Backend interface {
	pipelinecache.DeviceContext

	CreateFramebuffer(rp vk.RenderPass, views []vk.ImageView, width, height uint32) (vk.Framebuffer, error)
	DestroyFramebuffer(fb vk.Framebuffer)

	CreateQueryPool(count uint32) (vk.QueryPool, error)
	QueryResults(pool vk.QueryPool, first, count uint32) ([]uint64, bool, error)
	TimestampPeriod() float64
	GraphicsQueueFamily() uint32
}

// Renderer is the engine's single frame renderer. One Renderer serves every
// thread's command ring; ring selection for a given recording thread is the
// caller's responsibility (the root engine type owns the per-thread ring
// table).
type Renderer struct {
	backend Backend
	cache   *pipelinecache.Cache
	pool    *bindpool.Pool

	framesInFlight uint32
	frameIndex     uint32

	mu        sync.Mutex
	pending   *imagelayout.PendingQueue
	globals   map[string]bindpool.GlobalBinding
	texBindings map[string]*imagelayout.Texture

	queryPool      vk.QueryPool
	timestampReady []bool // per frame-slot: true once both timestamps of that slot have been written at least once
	lastGPUTimeMs  float64
	timestampPeriod float64
}

// New builds a Renderer with a two-timestamp query pool per frame-in-flight
// slot (frame start, frame end).
func New(backend Backend, cache *pipelinecache.Cache, pool *bindpool.Pool, framesInFlight uint32) (*Renderer, error) {
	if framesInFlight == 0 {
		framesInFlight = 1
	}
	qp, err := backend.CreateQueryPool(framesInFlight * 2)
	if err != nil {
		return nil, fmt.Errorf("renderer: create query pool: %w", err)
	}
	return &Renderer{
		backend:         backend,
		cache:           cache,
		pool:            pool,
		framesInFlight:  framesInFlight,
		pending:         imagelayout.NewPendingQueue(),
		globals:         make(map[string]bindpool.GlobalBinding),
		texBindings:     make(map[string]*imagelayout.Texture),
		queryPool:       qp,
		timestampReady:  make([]bool, framesInFlight),
		timestampPeriod: backend.TimestampPeriod(),
	}, nil
}

// FrameBegin acquires a command slot from ring, resets that slot's bump
// allocators for the new frame, and writes the frame-start timestamp.
func (r *Renderer) FrameBegin(ring *cmdring.Ring) (*cmdring.Slot, int, error) {
	slot, idx, err := ring.Acquire()
	if err != nil {
		return nil, -1, fmt.Errorf("renderer: frame begin: acquire: %w", err)
	}

	if slot.ConstBump != nil {
		if err := slot.ConstBump.Reset(); err != nil {
			return nil, -1, fmt.Errorf("renderer: frame begin: reset const bump: %w", err)
		}
	}
	if slot.StorageBump != nil {
		if err := slot.StorageBump.Reset(); err != nil {
			return nil, -1, fmt.Errorf("renderer: frame begin: reset storage bump: %w", err)
		}
	}

	base := r.frameIndex * 2
	vk.CmdResetQueryPool(slot.Handle, r.queryPool, base, 2)
	vk.CmdWriteTimestamp(slot.Handle, vk.PipelineStageTopOfPipeBit, r.queryPool, base)
	return slot, idx, nil
}

// FrameEnd writes the frame-end timestamp, submits with the supplied
// surface wait/signal semaphores, advances the flight index, and — once the
// next flight slot has been written by an earlier frame — reads back that
// slot's GPU time (the oldest frame still in the ring), before the next
// FrameBegin resets it. Results the device does not yet report available
// are skipped.
func (r *Renderer) FrameEnd(ring *cmdring.Ring, slot *cmdring.Slot, slotIdx int, wait, signal []vk.Semaphore) (*cmdring.Future, error) {
	base := r.frameIndex * 2
	vk.CmdWriteTimestamp(slot.Handle, vk.PipelineStageBottomOfPipeBit, r.queryPool, base+1)

	future, err := ring.EndSubmit(slotIdx, wait, signal)
	if err != nil {
		return nil, fmt.Errorf("renderer: frame end: %w", err)
	}

	r.timestampReady[r.frameIndex] = true
	r.frameIndex = (r.frameIndex + 1) % r.framesInFlight

	if r.timestampReady[r.frameIndex] {
		if err := r.readGPUTime(r.frameIndex * 2); err != nil {
			corelog.Warn("renderer: gpu timestamp readback failed: %v", err)
		}
	}

	return future, nil
}

func (r *Renderer) readGPUTime(base uint32) error {
	values, available, err := r.backend.QueryResults(r.queryPool, base, 2)
	if err != nil {
		return err
	}
	if !available || len(values) < 2 {
		return nil
	}
	ticks := values[1] - values[0]
	r.mu.Lock()
	r.lastGPUTimeMs = float64(ticks) * r.timestampPeriod / 1e6
	r.mu.Unlock()
	return nil
}

// GetGPUTimeMs returns the most recently read back full-frame GPU duration,
// in milliseconds, lagging real time by up to framesInFlight frames.
func (r *Renderer) GetGPUTimeMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGPUTimeMs
}

// SetGlobalConstants installs a named global buffer binding (e.g. the
// per-frame camera/system constants) visible to every material that
// declares a same-named binding and does not override it itself. Compute
// programs do not read the global table.
func (r *Renderer) SetGlobalConstants(name string, buf vk.Buffer, offset, rng uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[name] = bindpool.GlobalBinding{
		Name: name, Set: true, Buffer: buf, BufferOffset: offset, BufferRange: rng,
	}
}

// SetGlobalTexture installs a named global texture binding and enqueues it
// for a deferred shader-read transition before the next pass begins.
func (r *Renderer) SetGlobalTexture(name string, tex *imagelayout.Texture, view vk.ImageView, sampler vk.Sampler) {
	r.mu.Lock()
	r.globals[name] = bindpool.GlobalBinding{
		Name: name, Set: true, ImageView: view, Sampler: sampler, ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	r.texBindings[name] = tex
	r.mu.Unlock()
	r.pending.RequestShaderRead(tex)
}

func (r *Renderer) globalsSnapshot() map[string]bindpool.GlobalBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bindpool.GlobalBinding, len(r.globals))
	for k, v := range r.globals {
		out[k] = v
	}
	return out
}

// Globals exposes the current global binding table for callers (the render
// list's Draw operation) that need to merge it with per-material bindings.
func (r *Renderer) Globals() map[string]bindpool.GlobalBinding {
	return r.globalsSnapshot()
}

// Cache and Pool expose the shared pipeline and bind-pool caches to callers
// that build descriptor writes themselves (the render list's Draw path).
func (r *Renderer) Cache() *pipelinecache.Cache { return r.cache }
func (r *Renderer) Pool() *bindpool.Pool        { return r.pool }
func (r *Renderer) Pending() *imagelayout.PendingQueue { return r.pending }
