package stream

import "fmt"

type slotTag int

const (
	slotEmpty slotTag = iota
	slotOpen
	slotFinalized
)

// maxBlockIndex bounds the arena so a corrupt index cannot allocate unbounded memory.
const maxBlockIndex = 4096

// slot holds the in-flight state of one content block index.
type slot struct {
	tag       slotTag
	kind      BlockKind
	buf       []byte
	signature string
	toolID    string
	toolName  string
}

func (s *slot) open(start BlockStart) {
	*s = slot{
		tag:       slotOpen,
		kind:      start.Kind,
		signature: start.Signature,
		toolID:    start.ToolID,
		toolName:  start.ToolName,
	}
	switch start.Kind {
	case BlockText:
		s.buf = append(s.buf, start.Text...)
	case BlockThinking:
		s.buf = append(s.buf, start.Thinking...)
	}
}

// finalize releases the buffer; a finalized slot only remembers its kind.
func (s *slot) finalize() {
	s.tag = slotFinalized
	s.buf = nil
}

// accepts reports whether a delta of kind k belongs in this slot.
func (s *slot) accepts(k DeltaKind) bool {
	switch s.kind {
	case BlockText:
		return k == DeltaText
	case BlockThinking:
		return k == DeltaThinking || k == DeltaSignature
	case BlockToolUse:
		return k == DeltaJSON
	default:
		return false
	}
}

// arena stores slots indexed by content block index.
type arena struct {
	slots []slot
}

func (a *arena) at(index int) (*slot, error) {
	if index < 0 || index >= maxBlockIndex {
		return nil, fmt.Errorf("%w: block index %d out of range", ErrUnexpectedEvent, index)
	}
	if index >= len(a.slots) {
		a.slots = append(a.slots, make([]slot, index+1-len(a.slots))...)
	}
	return &a.slots[index], nil
}

// open returns the slot at index if it is currently open.
func (a *arena) open(index int) (*slot, error) {
	s, err := a.at(index)
	if err != nil {
		return nil, err
	}
	if s.tag != slotOpen {
		return nil, fmt.Errorf("%w: block %d is not open", ErrUnexpectedEvent, index)
	}
	return s, nil
}

// openSlots returns the slots still open, in index order.
func (a *arena) openSlots() []*slot {
	var open []*slot
	for i := range a.slots {
		if a.slots[i].tag == slotOpen {
			open = append(open, &a.slots[i])
		}
	}
	return open
}
