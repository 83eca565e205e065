package chord

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/zde37/ringstore/pkg/hash"
)

// DefaultSuccessorListSize is used when References is created with a non-positive size.
const DefaultSuccessorListSize = 8

// References is the routing state of a node: its predecessor, a bounded
// successor list and a finger table. The local node itself is never stored.
type References struct {
	localID           hash.ID
	successorListSize int

	// Predecessor, nil until a candidate was offered
	predecessor NodeRef

	// Successor list ordered by clockwise distance from localID
	successors []NodeRef

	// Finger table (index 0 to M-1)
	// fingers[i] is the first known node at or after (localID + 2^i) mod 2^M
	fingers []NodeRef

	// starts[i] caches localID + 2^i
	starts []hash.ID

	mu sync.RWMutex
}

// NewReferences creates an empty routing table for the node with localID.
func NewReferences(localID hash.ID, successorListSize int) *References {
	if successorListSize <= 0 {
		successorListSize = DefaultSuccessorListSize
	}
	starts := make([]hash.ID, hash.M)
	for i := range starts {
		starts[i] = localID.AddPowerOfTwo(i)
	}
	return &References{
		localID:           localID,
		successorListSize: successorListSize,
		successors:        make([]NodeRef, 0, successorListSize),
		fingers:           make([]NodeRef, hash.M),
		starts:            starts,
	}
}

// LocalID returns the ID of the node owning this table.
func (r *References) LocalID() hash.ID {
	return r.localID
}

// GetPredecessor returns the current predecessor, or nil.
func (r *References) GetPredecessor() NodeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.predecessor
}

// GetSuccessors returns a copy of the successor list.
func (r *References) GetSuccessors() []NodeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeRef, len(r.successors))
	copy(out, r.successors)
	return out
}

// GetFingerTable returns the distinct finger table entries in slot order.
func (r *References) GetFingerTable() []NodeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.distinctFingersLocked()
}

// GetSortedFingerTable returns the distinct finger table entries ordered by
// clockwise distance from the local node, so the walk starts right after it.
func (r *References) GetSortedFingerTable() []NodeRef {
	fingers := r.GetFingerTable()
	sortByDistance(r.localID, fingers)
	return fingers
}

func (r *References) distinctFingersLocked() []NodeRef {
	out := make([]NodeRef, 0, 16)
	seen := make(map[hash.ID]struct{}, 16)
	for _, f := range r.fingers {
		if f == nil {
			continue
		}
		if _, ok := seen[f.ID()]; ok {
			continue
		}
		seen[f.ID()] = struct{}{}
		out = append(out, f)
	}
	return out
}

// AddReference folds ref into the successor list and the finger table.
// Nil refs and refs to the local node are ignored.
func (r *References) AddReference(ref NodeRef) {
	if ref == nil || ref.ID() == r.localID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(ref)
}

func (r *References) addLocked(ref NodeRef) {
	r.addSuccessorLocked(ref)
	r.addFingerLocked(ref)
}

func (r *References) addSuccessorLocked(ref NodeRef) {
	id := ref.ID()
	for _, s := range r.successors {
		if s.ID() == id {
			return
		}
	}

	d := hash.Distance(r.localID, id)
	pos := sort.Search(len(r.successors), func(i int) bool {
		return hash.Distance(r.localID, r.successors[i].ID()).Cmp(d) > 0
	})
	if pos >= r.successorListSize {
		return
	}

	r.successors = append(r.successors, nil)
	copy(r.successors[pos+1:], r.successors[pos:])
	r.successors[pos] = ref
	if len(r.successors) > r.successorListSize {
		r.successors[len(r.successors)-1] = nil
		r.successors = r.successors[:r.successorListSize]
	}
}

func (r *References) addFingerLocked(ref NodeRef) {
	id := ref.ID()
	for i, start := range r.starts {
		cur := r.fingers[i]
		if cur == nil || closerTo(start, id, cur.ID()) {
			r.fingers[i] = ref
		}
	}
}

// closerTo reports whether a is at or after start and closer to it than b.
func closerTo(start, a, b hash.ID) bool {
	return hash.Distance(start, a).Cmp(hash.Distance(start, b)) < 0
}

// AddReferenceAsPredecessor adds candidate as a reference and makes it the
// predecessor if none is set or it lies strictly between the current
// predecessor and the local node.
func (r *References) AddReferenceAsPredecessor(candidate NodeRef) {
	if candidate == nil || candidate.ID() == r.localID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(candidate)
	if r.predecessor == nil || hash.Between(candidate.ID(), r.predecessor.ID(), r.localID) {
		r.predecessor = candidate
	}
}

// RemoveReference purges ref from the predecessor, successor list and finger table.
// Emptied finger slots are refilled from the remaining references.
func (r *References) RemoveReference(ref NodeRef) {
	if ref == nil {
		return
	}
	id := ref.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.predecessor != nil && r.predecessor.ID() == id {
		r.predecessor = nil
	}

	kept := r.successors[:0]
	for _, s := range r.successors {
		if s.ID() != id {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(r.successors); i++ {
		r.successors[i] = nil
	}
	r.successors = kept

	removed := false
	for i, f := range r.fingers {
		if f != nil && f.ID() == id {
			r.fingers[i] = nil
			removed = true
		}
	}
	if !removed {
		return
	}

	remaining := r.distinctFingersLocked()
	remaining = append(remaining, r.successors...)
	if r.predecessor != nil {
		remaining = append(remaining, r.predecessor)
	}
	for _, other := range remaining {
		r.addFingerLocked(other)
	}
}

// Contains reports whether a node with id is referenced anywhere.
func (r *References) Contains(id hash.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.predecessor != nil && r.predecessor.ID() == id {
		return true
	}
	for _, s := range r.successors {
		if s.ID() == id {
			return true
		}
	}
	for _, f := range r.fingers {
		if f != nil && f.ID() == id {
			return true
		}
	}
	return false
}

// FindResponsible returns the known node closest at-or-after id, or nil when
// that is the local node. The result is a best guess; a node that is not
// actually responsible forwards the call to its predecessor.
func (r *References) FindResponsible(id hash.ID) NodeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best NodeRef
	bestDist := hash.Distance(id, r.localID)

	consider := func(ref NodeRef) {
		if ref == nil {
			return
		}
		if d := hash.Distance(id, ref.ID()); d.Cmp(bestDist) < 0 {
			best, bestDist = ref, d
		}
	}
	consider(r.predecessor)
	for _, s := range r.successors {
		consider(s)
	}
	for _, f := range r.fingers {
		consider(f)
	}
	return best
}

// ClosestPrecedingNode returns the known node that most closely precedes id,
// or nil when no known node lies strictly between the local node and id.
func (r *References) ClosestPrecedingNode(id hash.ID) NodeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.fingers) - 1; i >= 0; i-- {
		f := r.fingers[i]
		if f != nil && hash.Between(f.ID(), r.localID, id) {
			return f
		}
	}
	for i := len(r.successors) - 1; i >= 0; i-- {
		s := r.successors[i]
		if hash.Between(s.ID(), r.localID, id) {
			return s
		}
	}
	return nil
}

// String returns a multi-line dump of the routing state for debug logs.
func (r *References) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "References{Local: %s\n", r.localID.Short())
	if r.predecessor != nil {
		fmt.Fprintf(&b, "  Predecessor: %s (%s)\n", r.predecessor.ID().Short(), r.predecessor.Address())
	} else {
		b.WriteString("  Predecessor: nil\n")
	}
	for i, s := range r.successors {
		fmt.Fprintf(&b, "  Successor[%d]: %s (%s)\n", i, s.ID().Short(), s.Address())
	}
	var last NodeRef
	for i, f := range r.fingers {
		if f == nil || (last != nil && last.ID() == f.ID()) {
			continue
		}
		last = f
		fmt.Fprintf(&b, "  Finger[%d]: %s (%s)\n", i, f.ID().Short(), f.Address())
	}
	b.WriteString("}")
	return b.String()
}

// sortByDistance orders refs by clockwise distance from origin.
func sortByDistance(origin hash.ID, refs []NodeRef) {
	dist := make(map[hash.ID]*big.Int, len(refs))
	for _, ref := range refs {
		dist[ref.ID()] = hash.Distance(origin, ref.ID())
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return dist[refs[i].ID()].Cmp(dist[refs[j].ID()]) < 0
	})
}
