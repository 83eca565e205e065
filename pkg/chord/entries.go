package chord

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
	"github.com/zhangyunhao116/skipset"

	"github.com/zde37/ringstore/pkg/hash"
)

// Entries is the in-memory entry store of a node. Keys are the 40 character
// hex form of the ID, so the map's lexicographic order is the ring order.
// A key set that became empty is kept around rather than deleted, so a
// concurrent Add never writes into a set that was already unlinked.
type Entries struct {
	m *skipmap.StringMap[*skipset.StringSet]

	count   atomic.Int64
	adds    atomic.Uint64
	removes atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// EntryStats reports counters of the entry store.
type EntryStats struct {
	Stored  int64  `json:"stored"`
	Keys    int    `json:"keys"`
	Adds    uint64 `json:"adds"`
	Removes uint64 `json:"removes"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// NewEntries creates an empty entry store.
func NewEntries() *Entries {
	return &Entries{
		m: skipmap.NewString[*skipset.StringSet](),
	}
}

func newValueSet() *skipset.StringSet {
	return skipset.NewString()
}

// Add stores entry. Adding an entry that is already present is a no-op.
func (e *Entries) Add(entry Entry) {
	set, _ := e.m.LoadOrStoreLazy(entry.Key.String(), newValueSet)
	if set.Add(string(entry.Value)) {
		e.count.Add(1)
		e.adds.Add(1)
	}
}

// AddAll stores every entry.
func (e *Entries) AddAll(entries []Entry) {
	for _, entry := range entries {
		e.Add(entry)
	}
}

// Remove deletes entry. Removing an absent entry is a no-op.
func (e *Entries) Remove(entry Entry) {
	set, ok := e.m.Load(entry.Key.String())
	if !ok {
		return
	}
	if set.Remove(string(entry.Value)) {
		e.count.Add(-1)
		e.removes.Add(1)
	}
}

// RemoveAll deletes every entry.
func (e *Entries) RemoveAll(entries []Entry) {
	for _, entry := range entries {
		e.Remove(entry)
	}
}

// GetEntries returns a copy of all entries stored under id.
func (e *Entries) GetEntries(id hash.ID) []Entry {
	set, ok := e.m.Load(id.String())
	if !ok || set.Len() == 0 {
		e.misses.Add(1)
		return []Entry{}
	}
	e.hits.Add(1)

	out := make([]Entry, 0, set.Len())
	set.Range(func(value string) bool {
		out = append(out, Entry{Key: id, Value: []byte(value)})
		return true
	})
	return out
}

// GetEntriesInInterval returns copies of all entries whose key lies in (low, high].
func (e *Entries) GetEntriesInInterval(low, high hash.ID) []Entry {
	out := []Entry{}
	e.m.Range(func(key string, set *skipset.StringSet) bool {
		id, err := hash.ParseID(key)
		if err != nil || !id.IsInInterval(low, high) {
			return true
		}
		set.Range(func(value string) bool {
			out = append(out, Entry{Key: id, Value: []byte(value)})
			return true
		})
		return true
	})
	return out
}

// GetAll returns copies of every stored entry in ring order.
func (e *Entries) GetAll() []Entry {
	out := make([]Entry, 0, e.GetNumberOfStoredEntries())
	e.m.Range(func(key string, set *skipset.StringSet) bool {
		id, err := hash.ParseID(key)
		if err != nil {
			return true
		}
		set.Range(func(value string) bool {
			out = append(out, Entry{Key: id, Value: []byte(value)})
			return true
		})
		return true
	})
	return out
}

// Contains reports whether entry is stored.
func (e *Entries) Contains(entry Entry) bool {
	set, ok := e.m.Load(entry.Key.String())
	if !ok {
		return false
	}
	return set.Contains(string(entry.Value))
}

// GetNumberOfStoredEntries returns the number of stored entries.
func (e *Entries) GetNumberOfStoredEntries() int {
	return int(e.count.Load())
}

// Stats returns a snapshot of the store counters.
func (e *Entries) Stats() EntryStats {
	keys := 0
	e.m.Range(func(_ string, set *skipset.StringSet) bool {
		if set.Len() > 0 {
			keys++
		}
		return true
	})
	return EntryStats{
		Stored:  e.count.Load(),
		Keys:    keys,
		Adds:    e.adds.Load(),
		Removes: e.removes.Load(),
		Hits:    e.hits.Load(),
		Misses:  e.misses.Load(),
	}
}
