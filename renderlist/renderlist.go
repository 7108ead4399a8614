// Package renderlist implements C9: the per-frame render list with its sort
// key, instance/material/system data blobs, and the batching pass that
// merges consecutive compatible items into one draw.
package renderlist

import (
	"sort"
)

// Item is one flat draw record. QueueOffset, then the mesh and material
// pointers, then the draw parameters form the sort key.
type Item struct {
	QueueOffset int32
	Mesh        uintptr // identity key; the caller's mesh handle
	Material    uintptr // identity key; the caller's material handle

	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32

	// InstanceBlobOffset indexes into the list's packed instance-data blob;
	// InstanceBlobSize is the size in bytes of this item's instance data
	// (all of its instances).
	InstanceBlobOffset int
	InstanceBlobSize   int
	instanceData       []byte // raw bytes appended via Add/AddIndexed
}

func (a Item) less(b Item) bool {
	if a.QueueOffset != b.QueueOffset {
		return a.QueueOffset < b.QueueOffset
	}
	if a.Mesh != b.Mesh {
		return a.Mesh < b.Mesh
	}
	if a.Material != b.Material {
		return a.Material < b.Material
	}
	if a.FirstIndex != b.FirstIndex {
		return a.FirstIndex < b.FirstIndex
	}
	return a.VertexOffset < b.VertexOffset
}

func (a Item) batchableWith(b Item) bool {
	return a.Mesh == b.Mesh && a.Material == b.Material &&
		a.IndexCount == b.IndexCount && a.FirstIndex == b.FirstIndex && a.VertexOffset == b.VertexOffset &&
		a.instanceStride() == b.instanceStride()
}

// instanceStride is the per-instance size in bytes of the item's data.
func (a Item) instanceStride() int {
	return a.InstanceBlobSize / int(maxU32(a.InstanceCount, 1))
}

// Batch is one or more consecutive sorted items sharing mesh, material,
// draw parameters, and per-instance stride, merged into a single draw call with a summed instance
// count.
type Batch struct {
	Item          Item
	InstanceCount uint32
	// InstanceBlobOffset/Size describe the contiguous run of packed
	// instance data covering every merged item, in sorted order.
	InstanceBlobOffset int
	InstanceBlobSize   int
}

// List accumulates items for one frame. It is cleared and refilled every
// frame. Sort may be called any number of times; it only does work after
// the list has changed.
type List struct {
	items       []Item
	dirty       bool
	sortedBlob  []byte
	blobStride  map[uintptr]int // stride hint keyed by material, for growth estimates
}

func New() *List {
	return &List{dirty: true}
}

// Add appends a non-indexed draw item with its raw per-instance data.
func (l *List) Add(queueOffset int32, mesh, material uintptr, vertexCount, instanceCount, firstVertex, firstInstance uint32, instanceData []byte) {
	l.items = append(l.items, Item{
		QueueOffset: queueOffset, Mesh: mesh, Material: material,
		IndexCount: vertexCount, InstanceCount: instanceCount,
		VertexOffset: int32(firstVertex), FirstInstance: firstInstance,
		InstanceBlobSize: len(instanceData), instanceData: instanceData,
	})
	l.dirty = true
}

// AddIndexed appends an indexed draw item.
func (l *List) AddIndexed(queueOffset int32, mesh, material uintptr, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32, instanceData []byte) {
	l.items = append(l.items, Item{
		QueueOffset: queueOffset, Mesh: mesh, Material: material,
		IndexCount: indexCount, InstanceCount: instanceCount,
		FirstIndex: firstIndex, VertexOffset: vertexOffset, FirstInstance: firstInstance,
		InstanceBlobSize: len(instanceData), instanceData: instanceData,
	})
	l.dirty = true
}

// Clear empties the list for reuse next frame without releasing its backing
// array.
func (l *List) Clear() {
	l.items = l.items[:0]
	l.sortedBlob = l.sortedBlob[:0]
	l.dirty = true
}

func (l *List) Len() int { return len(l.items) }

// Sort orders items by (queue_offset, mesh, material, draw params) and
// rebuilds the packed instance-data blob by appending each item's data in
// sorted order, one copy per item; runs of adjacent items are not merged
// into a single copy. Sort is idempotent: calling it again
// without an intervening Add leaves the order and blob unchanged.
func (l *List) Sort() {
	if !l.dirty {
		return
	}
	sort.SliceStable(l.items, func(i, j int) bool { return l.items[i].less(l.items[j]) })

	blob := l.sortedBlob[:0]
	for i := range l.items {
		l.items[i].InstanceBlobOffset = len(blob)
		blob = append(blob, l.items[i].instanceData...)
	}
	l.sortedBlob = blob
	l.dirty = false
}

// InstanceBlob returns the packed, sorted instance-data blob built by Sort.
func (l *List) InstanceBlob() []byte {
	l.Sort()
	return l.sortedBlob
}

// Batches walks the sorted items and merges consecutive batchable items into
// one Batch with a summed instance count, so the frame renderer issues one
// draw call per batch instead of one per item.
func (l *List) Batches() []Batch {
	l.Sort()
	if len(l.items) == 0 {
		return nil
	}

	batches := make([]Batch, 0, len(l.items))
	cur := Batch{
		Item:               l.items[0],
		InstanceCount:       maxU32(l.items[0].InstanceCount, 1),
		InstanceBlobOffset:  l.items[0].InstanceBlobOffset,
		InstanceBlobSize:    l.items[0].InstanceBlobSize,
	}

	for i := 1; i < len(l.items); i++ {
		it := l.items[i]
		if it.batchableWith(cur.Item) {
			cur.InstanceCount += maxU32(it.InstanceCount, 1)
			cur.InstanceBlobSize += it.InstanceBlobSize
			continue
		}
		batches = append(batches, cur)
		cur = Batch{
			Item:               it,
			InstanceCount:       maxU32(it.InstanceCount, 1),
			InstanceBlobOffset:  it.InstanceBlobOffset,
			InstanceBlobSize:    it.InstanceBlobSize,
		}
	}
	batches = append(batches, cur)
	return batches
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
