package internal

// PriorityHeap buckets derived cells by height so the lowest cells recompute first.
type PriorityHeap struct {
	min int
	max int

	nodes []*heapNode // [height]head

	lookup map[CellID]*heapNode // for O(1) removal
}

type heapNode struct {
	node   *Computed
	height int

	next *heapNode
	prev *heapNode
}

func NewHeap() *PriorityHeap {
	return &PriorityHeap{
		min:    0,
		max:    0,
		nodes:  make([]*heapNode, 64),
		lookup: make(map[CellID]*heapNode),
	}
}

func (h *PriorityHeap) Insert(node *Computed) {
	if _, ok := h.lookup[node.id]; ok {
		return
	}

	height := node.height
	for height >= len(h.nodes) {
		h.nodes = append(h.nodes, make([]*heapNode, len(h.nodes))...)
	}

	entry := &heapNode{node: node, height: height}
	h.lookup[node.id] = entry

	if h.nodes[height] == nil {
		h.nodes[height] = entry
		entry.prev = entry // loop to self
		entry.next = nil
	} else {
		head := h.nodes[height]
		tail := head.prev

		tail.next = entry
		entry.prev = tail
		entry.next = nil
		head.prev = entry
	}

	if height > h.max {
		h.max = height
	}
	if height < h.min {
		h.min = height
	}
}

func (h *PriorityHeap) Remove(node *Computed) {
	entry, ok := h.lookup[node.id]
	if !ok {
		return
	}
	delete(h.lookup, node.id)

	height := entry.height

	// single node
	if entry.prev == entry {
		h.nodes[height] = nil
		entry.prev = entry
		entry.next = nil
		return
	}

	// multiple nodes
	head := h.nodes[height]
	if entry == head {
		h.nodes[height] = entry.next
	} else {
		entry.prev.next = entry.next
	}

	next := entry.next
	if next == nil {
		next = head
	}
	next.prev = entry.prev

	entry.prev = entry
	entry.next = nil
}

// Pop removes and returns the lowest entry, or nil once the heap is empty.
func (h *PriorityHeap) Pop() *Computed {
	for ; h.min <= h.max; h.min++ {
		if entry := h.nodes[h.min]; entry != nil {
			h.Remove(entry.node)
			return entry.node
		}
	}

	h.min = 0
	h.max = 0
	return nil
}

func (h *PriorityHeap) Len() int {
	return len(h.lookup)
}

func (h *PriorityHeap) Clear() {
	clear(h.nodes)
	clear(h.lookup)
	h.min = 0
	h.max = 0
}
