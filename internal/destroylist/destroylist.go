// Package destroylist implements C2: a typed, thread-safe queue of pending
// GPU-object destructions that is drained once the fence protecting it
// signals.
package destroylist

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
)

// Kind tags what a destroy-list Entry holds. One sum type over every
// Vulkan object kind the core creates, plus "bind-pool range".
type Kind int

const (
	KindImage Kind = iota
	KindImageView
	KindBuffer
	KindDeviceMemory
	KindPipeline
	KindPipelineLayout
	KindDescriptorSetLayout
	KindDescriptorPool
	KindRenderPass
	KindFramebuffer
	KindSampler
	KindBindPoolRange
)

// Entry is one pending destruction. Exactly one of the handle fields is
// meaningful, selected by Kind; BindPoolRange entries use Start/Count.
type Entry struct {
	Kind   Kind
	Image  vk.Image
	View   vk.ImageView
	Buffer vk.Buffer
	Memory vk.DeviceMemory

	Pipeline       vk.Pipeline
	PipelineLayout vk.PipelineLayout
	SetLayout      vk.DescriptorSetLayout
	DescPool       vk.DescriptorPool
	RenderPass     vk.RenderPass
	Framebuffer    vk.Framebuffer
	Sampler        vk.Sampler

	Start, Count uint32
}

// Destroyer performs the actual vkDestroy*/free call for one Entry kind. The
// destroy list does not import a device handle itself; it is handed one
// Destroyer per List at construction so it stays a pure data structure
// rather than a singleton reaching for a global device handle.
type Destroyer interface {
	Destroy(e Entry)
}

// List is one command-ring slot's destroy list: entries enqueued while a
// command buffer recording on that slot is alive, executed once the slot's
// fence has signaled.
type List struct {
	mu      sync.Mutex
	entries []Entry
	queued  map[Entry]bool
	destroy Destroyer
}

func New(destroy Destroyer) *List {
	return &List{destroy: destroy, queued: make(map[Entry]bool)}
}

// Add appends an entry under the list's mutex. Adding a handle already
// queued is a caller bug; it is logged as an error and the duplicate is
// dropped, so the bug surfaces without the handle being destroyed twice.
func (l *List) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queued[e] {
		corelog.Error("destroylist: handle already queued for destruction (kind %d); duplicate dropped", e.Kind)
		return
	}
	l.queued[e] = true
	l.entries = append(l.entries, e)
}

// Execute destroys every queued entry in insertion order, then clears the
// list. Safe to call on an empty list.
func (l *List) Execute() {
	l.mu.Lock()
	pending := l.entries
	l.entries = nil
	l.queued = make(map[Entry]bool)
	l.mu.Unlock()

	for _, e := range pending {
		l.destroy.Destroy(e)
	}
}

// Len reports the number of entries currently queued (diagnostics/tests).
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
