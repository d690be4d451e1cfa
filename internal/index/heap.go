package index

import "sort"

// distItem pairs an internal node id with its distance from the current
// query. It is the unit both heaps operate on.
type distItem struct {
	id   uint32
	dist float32
}

// distHeap is a binary heap over distItems. With max=false it pops the
// closest item first (candidate frontier); with max=true it pops the
// furthest first (bounded result set).
type distHeap struct {
	max   bool
	items []distItem
}

func (h *distHeap) len() int { return len(h.items) }

func (h *distHeap) peek() distItem { return h.items[0] }

func (h *distHeap) push(item distItem) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

func (h *distHeap) pop() distItem {
	n := len(h.items)
	out := h.items[0]
	last := h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.items[0] = last
		h.siftDown(0)
	}
	return out
}

func (h *distHeap) less(i, j int) bool {
	if h.max {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}

func (h *distHeap) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(i, p) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *distHeap) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.less(r, l) {
			best = r
		}
		if !h.less(best, i) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

// sortByDistance orders items ascending by distance, ties broken by internal
// id so results are stable for a fixed graph.
func sortByDistance(items []distItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].id < items[j].id
	})
}
