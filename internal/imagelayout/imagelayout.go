// Package imagelayout implements C4: the automatic per-texture layout
// tracker, its deferred pre-pass transition queue, and the transient-discard
// optimization for tile-based GPUs.
package imagelayout

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// Layout is the texture layout state machine.
type Layout int

const (
	Undefined Layout = iota
	TransferSrc
	TransferDst
	ColorAttachment
	DepthStencilAttachment
	ShaderReadOnly
	General
	PresentSrc
)

func (l Layout) vk() vk.ImageLayout {
	switch l {
	case TransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case TransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case ColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case DepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case ShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case General:
		return vk.ImageLayoutGeneral
	case PresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

// stageAccess is the fixed (stage, access) pair a given layout implies as a
// *source* of a transition, derived from the old layout via a fixed table.
type stageAccess struct {
	stage  vk.PipelineStageFlagBits
	access vk.AccessFlagBits
}

var sourceTable = map[Layout]stageAccess{
	Undefined:              {vk.PipelineStageTopOfPipeBit, 0},
	TransferSrc:            {vk.PipelineStageTransferBit, vk.AccessTransferReadBit},
	TransferDst:            {vk.PipelineStageTransferBit, vk.AccessTransferWriteBit},
	ColorAttachment:        {vk.PipelineStageColorAttachmentOutputBit, vk.AccessColorAttachmentWriteBit},
	DepthStencilAttachment: {vk.PipelineStageEarlyFragmentTestsBit, vk.AccessDepthStencilAttachmentWriteBit},
	ShaderReadOnly:         {vk.PipelineStageFragmentShaderBit, vk.AccessShaderReadBit},
	General:                {vk.PipelineStageComputeShaderBit, vk.AccessShaderReadBit | vk.AccessShaderWriteBit},
	PresentSrc:             {vk.PipelineStageBottomOfPipeBit, 0},
}

// Texture is the minimal state every tracked image carries.
type Texture struct {
	mu sync.Mutex

	Image       vk.Image
	AspectMask  vk.ImageAspectFlagBits
	IsStorage   bool // compute storage-image texture: shader-read target is GENERAL, not SHADER_READ_ONLY
	IsTransient bool // transient-discard: writeable-not-readable MSAA color or non-readable depth

	currentLayout      Layout
	currentQueueFamily uint32
	firstUse           bool
}

// NewTexture constructs a tracked texture starting in Undefined, first_use
// set.
func NewTexture(image vk.Image, aspect vk.ImageAspectFlagBits, isStorage, isTransient bool) *Texture {
	return &Texture{
		Image:       image,
		AspectMask:  aspect,
		IsStorage:   isStorage,
		IsTransient: isTransient,
		firstUse:    true,
	}
}

func (t *Texture) CurrentLayout() Layout {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.IsTransient {
		return Undefined
	}
	return t.currentLayout
}

// Barrier is the fully-resolved image memory barrier a Transition* call
// produces. Recorder is left to the caller (the frame renderer or compute
// program) so this package stays free of command-buffer recording concerns.
type Barrier struct {
	Image          vk.Image
	AspectMask     vk.ImageAspectFlagBits
	OldLayout      vk.ImageLayout
	NewLayout      vk.ImageLayout
	SrcStage       vk.PipelineStageFlagBits
	DstStage       vk.PipelineStageFlagBits
	SrcAccess      vk.AccessFlagBits
	DstAccess      vk.AccessFlagBits
	SrcQueueFamily uint32
	DstQueueFamily uint32
	NoOp           bool
}

// Transition computes the barrier to move tex to newLayout, treating a
// transient-discard texture's old layout as always UNDEFINED. Returns
// NoOp=true (and does not update tracked state) if the texture is already in
// newLayout, is not transient, and has been used before.
func (t *Texture) Transition(newLayout Layout, dstStage vk.PipelineStageFlagBits, dstAccess vk.AccessFlagBits) Barrier {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldLayout := t.currentLayout
	if t.IsTransient {
		oldLayout = Undefined
	} else if oldLayout == newLayout && !t.firstUse {
		return Barrier{NoOp: true}
	}

	src := sourceTable[oldLayout]
	b := Barrier{
		Image:      t.Image,
		AspectMask: t.AspectMask,
		OldLayout:  oldLayout.vk(),
		NewLayout:  newLayout.vk(),
		SrcStage:   src.stage,
		DstStage:   dstStage,
		SrcAccess:  src.access,
		DstAccess:  dstAccess,
	}

	if !t.IsTransient {
		t.currentLayout = newLayout
	}
	t.firstUse = false
	return b
}

// TransitionForShaderRead targets SHADER_READ_ONLY for regular textures and
// GENERAL for storage-compute textures.
func (t *Texture) TransitionForShaderRead(dstStage vk.PipelineStageFlagBits) Barrier {
	if t.IsStorage {
		return t.Transition(General, dstStage, vk.AccessShaderReadBit)
	}
	return t.Transition(ShaderReadOnly, dstStage, vk.AccessShaderReadBit)
}

// TransitionForStorage targets GENERAL with compute stage and read|write
// access.
func (t *Texture) TransitionForStorage() Barrier {
	return t.Transition(General, vk.PipelineStageComputeShaderBit, vk.AccessShaderReadBit|vk.AccessShaderWriteBit)
}

// NotifyLayout updates tracked layout without emitting a barrier, used after
// a render pass performed an implicit initialLayout->finalLayout change.
func (t *Texture) NotifyLayout(layout Layout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.IsTransient {
		t.currentLayout = layout
	}
	t.firstUse = false
}

// TransferQueueFamily emits a two-sided release+acquire barrier pair and
// updates the tracked queue family.
func (t *Texture) TransferQueueFamily(dstFamily uint32, newLayout Layout, dstStage vk.PipelineStageFlagBits, dstAccess vk.AccessFlagBits) (release, acquire Barrier) {
	t.mu.Lock()
	srcFamily := t.currentQueueFamily
	oldLayout := t.currentLayout
	if t.IsTransient {
		oldLayout = Undefined
	}
	t.mu.Unlock()

	src := sourceTable[oldLayout]
	release = Barrier{
		Image: t.Image, AspectMask: t.AspectMask,
		OldLayout: oldLayout.vk(), NewLayout: newLayout.vk(),
		SrcStage: src.stage, DstStage: dstStage,
		SrcAccess: src.access, DstAccess: 0,
		SrcQueueFamily: srcFamily, DstQueueFamily: dstFamily,
	}
	acquire = Barrier{
		Image: t.Image, AspectMask: t.AspectMask,
		OldLayout: oldLayout.vk(), NewLayout: newLayout.vk(),
		SrcStage: src.stage, DstStage: dstStage,
		SrcAccess: 0, DstAccess: dstAccess,
		SrcQueueFamily: srcFamily, DstQueueFamily: dstFamily,
	}

	t.mu.Lock()
	if !t.IsTransient {
		t.currentLayout = newLayout
	}
	t.currentQueueFamily = dstFamily
	t.firstUse = false
	t.mu.Unlock()
	return release, acquire
}

// PendingQueue is the process-wide deferred transition queue: transitions
// requested outside a render pass (set_global_texture, material_set_tex)
// are appended here, deduplicated by texture with storage taking priority
// over shader-read, and flushed by BeginPass before vkCmdBeginRenderPass.
type PendingQueue struct {
	mu      sync.Mutex
	pending map[*Texture]pendingKind
	order   []*Texture
}

type pendingKind int

const (
	pendingShaderRead pendingKind = iota
	pendingStorage
)

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{pending: make(map[*Texture]pendingKind)}
}

// RequestShaderRead enqueues tex for a deferred shader-read transition
// unless a storage transition is already queued for it.
func (q *PendingQueue) RequestShaderRead(tex *Texture) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if kind, ok := q.pending[tex]; ok && kind == pendingStorage {
		return
	}
	if _, ok := q.pending[tex]; !ok {
		q.order = append(q.order, tex)
	}
	q.pending[tex] = pendingShaderRead
}

// RequestStorage enqueues tex for a deferred storage transition, overriding
// any previously queued shader-read request for it.
func (q *PendingQueue) RequestStorage(tex *Texture) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[tex]; !ok {
		q.order = append(q.order, tex)
	}
	q.pending[tex] = pendingStorage
}

// Flush computes the barrier for every queued texture (in request order)
// and clears the queue. Called by BeginPass before vkCmdBeginRenderPass.
func (q *PendingQueue) Flush(dstStage vk.PipelineStageFlagBits) []Barrier {
	q.mu.Lock()
	order := q.order
	pending := q.pending
	q.order = nil
	q.pending = make(map[*Texture]pendingKind)
	q.mu.Unlock()

	barriers := make([]Barrier, 0, len(order))
	for _, tex := range order {
		kind := pending[tex]
		var b Barrier
		if kind == pendingStorage {
			b = tex.TransitionForStorage()
		} else {
			b = tex.TransitionForShaderRead(dstStage)
		}
		if !b.NoOp {
			barriers = append(barriers, b)
		}
	}
	return barriers
}

// Len reports the number of distinct textures currently queued (tests).
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
