package skr

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/gputex"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
)

// Texture is a handle to one GPU texture: its image, default view, default
// sampler, and the layout-tracked state the frame renderer and compute
// program transition automatically.
type Texture struct {
	eng *Engine
	idx uint32
	id  uuid.UUID
	tex *gputex.Texture
}

// CreateTexture allocates and uploads a texture. data may be nil for an
// uninitialized render target or compute storage image.
func (e *Engine) CreateTexture(desc gputex.Desc, data []byte) (*Texture, error) {
	idx, id := e.textures.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create texture: table exhausted", nil)
	}

	tex, err := gputex.Create(e.backend, desc, data)
	if err != nil {
		e.textures.Free(idx)
		return nil, ErrDevice("create texture", err)
	}

	t := &Texture{eng: e, idx: idx, id: id, tex: tex}
	e.mu.Lock()
	e.texturesByIdx[idx] = t
	e.mu.Unlock()
	return t, nil
}

func (t *Texture) Width() uint32     { return t.tex.Width }
func (t *Texture) Height() uint32    { return t.tex.Height }
func (t *Texture) MipLevels() uint32 { return t.tex.MipLevels }
func (t *Texture) Layers() uint32    { return t.tex.Layers }
func (t *Texture) Format() gputex.Format { return t.tex.Format }
func (t *Texture) View() vk.ImageView     { return t.tex.View }
func (t *Texture) Sampler() vk.Sampler    { return t.tex.Sampler }

// Tracked exposes the layout-tracked handle so a caller can pass this
// texture as a compute program's bound image without the engine reaching
// back into the compute package itself.
func (t *Texture) Tracked() *imagelayout.Texture { return t.tex.Tracked }

// GenerateMips records the blit chain filling every mip level beyond 0 from
// the data already uploaded to level 0, on threadID's command ring.
func (t *Texture) GenerateMips(threadID uint64) error {
	ring := t.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("generate mips: thread not initialized")
	}
	if err := t.tex.GenerateMips(ring); err != nil {
		return ErrDevice("generate mips", err)
	}
	return nil
}

// Destroy enqueues the texture's image, view, and sampler onto threadID's
// active command slot's destroy list, so in-flight draws or dispatches that
// still reference them finish before the objects are actually destroyed,
// and frees the handle for reuse immediately.
func (t *Texture) Destroy(threadID uint64) error {
	ring := t.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("destroy texture: thread not initialized")
	}
	slot, idx, err := ring.Acquire()
	if err != nil {
		return ErrDevice("destroy texture: acquire command slot", err)
	}
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindSampler, Sampler: t.tex.Sampler})
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindImageView, View: t.tex.View})
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindImage, Image: t.tex.Image})
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindDeviceMemory, Memory: t.tex.Memory})
	if err := ring.Release(idx); err != nil {
		return ErrDevice("destroy texture: release command slot", err)
	}

	t.eng.mu.Lock()
	delete(t.eng.texturesByIdx, t.idx)
	t.eng.mu.Unlock()
	t.eng.textures.Free(t.idx)
	return nil
}
