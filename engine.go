// Package skr is the public surface of the rendering core: a stable handle
// API over the ten internal subsystems (memory arena, destroy list, command
// ring, image layout tracker, buffer/bump allocator, pipeline cache, bind
// pool, compute program, render list, frame renderer). Vulkan instance,
// device, and swapchain bring-up is a caller responsibility — Init is
// handed an already-initialized Backend rather than creating one itself.
package skr

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/config"
	"github.com/NOT-REAL-GAMES/skr/internal/arena"
	"github.com/NOT-REAL-GAMES/skr/internal/bindpool"
	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/gputex"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
	"github.com/NOT-REAL-GAMES/skr/renderer"
)

// Backend is everything the engine needs from an already-initialized Vulkan
// device: the seams the pipeline cache, command ring, buffer/bump
// allocator, frame renderer, texture, and destroy list each declare on their
// own, collected into one interface the caller implements once.
type Backend interface {
	pipelinecache.DeviceContext
	cmdring.Backend
	gpubuf.Device
	gputex.Device
	renderer.Backend
	destroylist.Destroyer
	bindpool.DefaultTextureProvider

	CommandPool(threadID uint64) vk.CommandPool
	QueueFamily() uint32
}

// Engine is the handle every operation in this package is threaded through.
// It is never a singleton: an embedding application may run more than one
// in a process (tests commonly do), and every exported operation takes an
// *Engine explicitly.
type Engine struct {
	settings config.Settings
	backend  Backend
	hooks    *arena.Hooks

	cache    *pipelinecache.Cache
	pool     *bindpool.Pool
	renderFE *renderer.Renderer

	ringsMu sync.Mutex
	rings   map[uint64]*cmdring.Ring // keyed by caller-supplied thread ID

	textures  *handle.Table
	buffers   *handle.Table
	meshes    *handle.Table
	materials *handle.Table
	computes  *handle.Table
	lists     *handle.Table

	texturesByIdx  map[uint32]*Texture
	buffersByIdx   map[uint32]*Buffer
	meshesByIdx    map[uint32]*Mesh
	materialsByIdx map[uint32]*Material
	computesByIdx  map[uint32]*ComputeProgram
	listsByIdx     map[uint32]*RenderList
	mu             sync.Mutex
}

const (
	maxTextures  = 1 << 16
	maxBuffers   = 1 << 16
	maxMeshes    = 1 << 16
	maxMaterials = 1 << 14
	maxComputes  = 1 << 12
	maxLists     = 1 << 8
	bindPoolSlots = 1 << 16
)

// Init wires the ten subsystems together against an already-initialized
// Backend. Settings.FramesInFlight and Settings.Allocator govern the main
// thread's command ring and the host-allocator hooks respectively; every
// other recording thread gets its own ring via ThreadInit.
func Init(settings config.Settings, backend Backend) (*Engine, error) {
	hooks := arena.NewHooks(settings.Allocator)

	cache := pipelinecache.New(backend)
	pool := bindpool.NewPool(bindPoolSlots, cache, backend)

	fe, err := renderer.New(backend, cache, pool, settings.FramesInFlight)
	if err != nil {
		return nil, fmt.Errorf("skr: init: %w", err)
	}

	e := &Engine{
		settings:       settings,
		backend:        backend,
		hooks:          hooks,
		cache:          cache,
		pool:           pool,
		renderFE:       fe,
		rings:          make(map[uint64]*cmdring.Ring),
		textures:       handle.NewTable(maxTextures),
		buffers:        handle.NewTable(maxBuffers),
		meshes:         handle.NewTable(maxMeshes),
		materials:      handle.NewTable(maxMaterials),
		computes:       handle.NewTable(maxComputes),
		lists:          handle.NewTable(maxLists),
		texturesByIdx:  make(map[uint32]*Texture),
		buffersByIdx:   make(map[uint32]*Buffer),
		meshesByIdx:    make(map[uint32]*Mesh),
		materialsByIdx: make(map[uint32]*Material),
		computesByIdx:  make(map[uint32]*ComputeProgram),
		listsByIdx:     make(map[uint32]*RenderList),
	}

	if _, err := e.ThreadInit(0); err != nil {
		return nil, fmt.Errorf("skr: init: main thread ring: %w", err)
	}

	corelog.Info("skr: engine initialized (app=%s frames_in_flight=%d)", settings.AppName, settings.FramesInFlight)
	return e, nil
}

// ThreadInit allocates a command-buffer ring for threadID, sized to
// Settings.FramesInFlight, so a worker thread can record independently of
// the main thread's ring. Calling it twice for the same threadID is an
// error — Shutdown it first.
func (e *Engine) ThreadInit(threadID uint64) (*cmdring.Ring, error) {
	e.ringsMu.Lock()
	defer e.ringsMu.Unlock()

	if _, exists := e.rings[threadID]; exists {
		return nil, fmt.Errorf("skr: thread %d already initialized", threadID)
	}

	pool := e.backend.CommandPool(threadID)
	newBump := func() (*gpubuf.BumpAllocator, *gpubuf.BumpAllocator) {
		c, _ := gpubuf.NewBumpAllocator(e.backend, true)
		s, _ := gpubuf.NewBumpAllocator(e.backend, false)
		return c, s
	}
	newDestroyList := func() *destroylist.List { return destroylist.New(e.backend) }

	ring, err := cmdring.NewRing(e.backend, pool, e.backend.QueueFamily(), int(e.settings.FramesInFlight), newBump, newDestroyList)
	if err != nil {
		return nil, fmt.Errorf("skr: thread init: %w", err)
	}
	e.rings[threadID] = ring
	return ring, nil
}

// ThreadShutdown drops the ring for threadID. The ring's slots are not
// force-drained here; the caller is expected to have waited for its
// in-flight work before calling this (mirroring command-ring teardown order
// elsewhere in this package).
func (e *Engine) ThreadShutdown(threadID uint64) {
	e.ringsMu.Lock()
	defer e.ringsMu.Unlock()
	delete(e.rings, threadID)
}

// Ring returns the command-buffer ring registered for threadID via
// ThreadInit, or nil if none was registered.
func (e *Engine) Ring(threadID uint64) *cmdring.Ring {
	e.ringsMu.Lock()
	defer e.ringsMu.Unlock()
	return e.rings[threadID]
}

func (e *Engine) Renderer() *renderer.Renderer     { return e.renderFE }
func (e *Engine) Cache() *pipelinecache.Cache      { return e.cache }
func (e *Engine) Pool() *bindpool.Pool             { return e.pool }
func (e *Engine) Pending() *imagelayout.PendingQueue { return e.renderFE.Pending() }

// Shutdown drops every thread's command ring; it does not release the
// resource tables or the objects they track. It does not wait on
// outstanding GPU work; the caller must ensure the device is idle first
// (the same requirement the teacher's own shutdown path states).
func (e *Engine) Shutdown() {
	e.ringsMu.Lock()
	e.rings = make(map[uint64]*cmdring.Ring)
	e.ringsMu.Unlock()
	corelog.Info("skr: engine shutdown")
}

