package gate

// History is the memory of prior acceptances consulted by the gate.
//
// Implementations are not safe for concurrent use; the owning pipeline
// serializes access.
type History interface {
	LastAccepted() string
	Contains(text string) bool
	Add(text string)
	Len() int
	Snapshot() []string
}

// MemoryHistory keeps every accepted fragment for the lifetime of a session.
// It never evicts.
type MemoryHistory struct {
	last  string
	order []string
	seen  map[string]struct{}
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{seen: make(map[string]struct{})}
}

func (h *MemoryHistory) LastAccepted() string {
	return h.last
}

func (h *MemoryHistory) Contains(text string) bool {
	_, ok := h.seen[text]
	return ok
}

// Add records text as the latest acceptance. Re-adding a known fragment only
// moves lastAccepted; insertion order keeps the first occurrence.
func (h *MemoryHistory) Add(text string) {
	h.last = text
	if _, ok := h.seen[text]; ok {
		return
	}
	h.seen[text] = struct{}{}
	h.order = append(h.order, text)
}

func (h *MemoryHistory) Len() int {
	return len(h.order)
}

// Snapshot returns the accepted fragments in insertion order.
func (h *MemoryHistory) Snapshot() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}
