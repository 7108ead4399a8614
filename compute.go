package skr

import (
	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/compute"
	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/shader"
)

// ComputeProgram is a compute pipeline built from a reflected shader, its
// bound texture/buffer state, and its dirty-tracked $Global mirror.
type ComputeProgram struct {
	eng *Engine
	idx uint32
	id  uuid.UUID
	pr  *compute.Program
}

// CreateComputeProgram builds the compute pipeline from sh, which must
// declare a compute stage. The device must support push descriptors; a
// device that does not is rejected here rather than on first Dispatch.
func (e *Engine) CreateComputeProgram(sh *shader.Shader) (*ComputeProgram, error) {
	idx, id := e.computes.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create compute program: table exhausted", nil)
	}

	pr, err := compute.Create(e.backend, e.backend, sh)
	if err != nil {
		e.computes.Free(idx)
		return nil, ErrDevice("create compute program", err)
	}

	c := &ComputeProgram{eng: e, idx: idx, id: id, pr: pr}
	e.mu.Lock()
	e.computesByIdx[idx] = c
	e.mu.Unlock()
	return c, nil
}

// SetTexture binds a sampled texture or storage image to the named binding.
// The texture's layout-tracked handle is retained so Dispatch can
// auto-transition it before recording.
func (c *ComputeProgram) SetTexture(name string, tex *Texture) error {
	return wrapBindErr(c.pr.SetTexture(name, tex.Tracked(), tex.View(), tex.Sampler()))
}

func (c *ComputeProgram) SetBuffer(name string, buf *Buffer, offset, rng uint64) error {
	return wrapBindErr(c.pr.SetBuffer(name, rawBuffer(buf), offset, rng))
}

func (c *ComputeProgram) SetParam(name string, data []byte) error {
	return wrapBindErr(c.pr.SetParam(name, data))
}

// Dispatch records a compute dispatch on threadID's active command slot.
func (c *ComputeProgram) Dispatch(threadID uint64, x, y, z uint32) error {
	ring := c.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("dispatch: thread not initialized")
	}
	if err := c.pr.Dispatch(ring, x, y, z); err != nil {
		return ErrDevice("dispatch", err)
	}
	return nil
}

// DispatchIndirect is Dispatch with its dimensions read from argsBuffer at
// offset rather than passed directly.
func (c *ComputeProgram) DispatchIndirect(threadID uint64, argsBuffer *Buffer, offset uint64) error {
	ring := c.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("dispatch indirect: thread not initialized")
	}
	if err := c.pr.DispatchIndirect(ring, rawBuffer(argsBuffer), offset); err != nil {
		return ErrDevice("dispatch indirect", err)
	}
	return nil
}

// Destroy enqueues the program's pipeline, pipeline layout, descriptor-set
// layout, and (if present) its $Global GPU mirror buffer onto threadID's
// active command slot's destroy list, rather than destroying them
// immediately the way compute.Program.Destroy does, so an in-flight
// dispatch still referencing the pipeline finishes first.
func (c *ComputeProgram) Destroy(threadID uint64) error {
	ring := c.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("destroy compute program: thread not initialized")
	}
	slot, idx, err := ring.Acquire()
	if err != nil {
		return ErrDevice("destroy compute program: acquire command slot", err)
	}
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindPipeline, Pipeline: c.pr.Pipeline()})
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindPipelineLayout, PipelineLayout: c.pr.PipelineLayout()})
	slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindDescriptorSetLayout, SetLayout: c.pr.SetLayout()})
	if gb := c.pr.GlobalBuffer(); gb != nil {
		for _, a := range gb.Allocs() {
			slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindBuffer, Buffer: a.Buffer})
			slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindDeviceMemory, Memory: a.Memory})
		}
	}
	if err := ring.Release(idx); err != nil {
		return ErrDevice("destroy compute program: release command slot", err)
	}

	c.eng.mu.Lock()
	delete(c.eng.computesByIdx, c.idx)
	c.eng.mu.Unlock()
	c.eng.computes.Free(c.idx)
	return nil
}
