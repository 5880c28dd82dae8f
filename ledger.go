package batchmem

import "github.com/dolthub/swiss"

// requirement is one pending request for memory, waiting in the ledger for a block
type requirement struct {
	size      int
	alignment int
	typeBits  uint32
	kind      Kind
	resource  any

	// The entry this requirement belongs to. Kept current across relocation.
	entry entryID
}

func (r *requirement) supportsType(memoryTypeIndex int) bool {
	return r.typeBits&(1<<memoryTypeIndex) != 0
}

// requirementLedger holds pending requirements in the order they were requested
type requirementLedger struct {
	requirements []*requirement
}

func (l *requirementLedger) Len() int {
	return len(l.requirements)
}

func (l *requirementLedger) push(req *requirement) {
	l.requirements = append(l.requirements, req)
}

// remove deletes one requirement, preserving the order of the rest
func (l *requirementLedger) remove(req *requirement) bool {
	for index, candidate := range l.requirements {
		if candidate == req {
			copy(l.requirements[index:], l.requirements[index+1:])
			l.requirements[len(l.requirements)-1] = nil
			l.requirements = l.requirements[:len(l.requirements)-1]
			return true
		}
	}

	return false
}

// removeAll deletes every requirement in the provided set, preserving the order of the rest
func (l *requirementLedger) removeAll(set []*requirement) {
	if len(set) == 0 {
		return
	}

	removed := swiss.NewMap[*requirement, struct{}](uint32(len(set)))
	for _, req := range set {
		removed.Put(req, struct{}{})
	}

	kept := l.requirements[:0]
	for _, req := range l.requirements {
		if !removed.Has(req) {
			kept = append(kept, req)
		}
	}

	for index := len(kept); index < len(l.requirements); index++ {
		l.requirements[index] = nil
	}
	l.requirements = kept
}

// compatibleWith returns, in ledger order, every pending requirement that supports the memory type
func (l *requirementLedger) compatibleWith(memoryTypeIndex int) []*requirement {
	var compatible []*requirement
	for _, req := range l.requirements {
		if req.supportsType(memoryTypeIndex) {
			compatible = append(compatible, req)
		}
	}

	return compatible
}

// countSupporting counts the pending requirements other than exclude that support the memory type
func (l *requirementLedger) countSupporting(memoryTypeIndex int, exclude *requirement) int {
	count := 0
	for _, req := range l.requirements {
		if req != exclude && req.supportsType(memoryTypeIndex) {
			count++
		}
	}

	return count
}
