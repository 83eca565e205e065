package chord

import (
	"bytes"
	"context"
	"fmt"

	"github.com/zde37/ringstore/pkg/hash"
)

// Entry is a key/value pair stored on the ring. Two entries are the same
// entry when both key and value match.
type Entry struct {
	Key   hash.ID `json:"key"`
	Value []byte  `json:"value"`
}

// NewEntry creates an Entry owning a private copy of value.
func NewEntry(key hash.ID, value []byte) Entry {
	return Entry{Key: key, Value: bytes.Clone(value)}
}

// Equals reports whether both entries carry the same key and value.
func (e Entry) Equals(other Entry) bool {
	return e.Key == other.Key && bytes.Equal(e.Value, other.Value)
}

// String returns a human-readable representation of the entry.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Key: %s, Value: %d bytes}", e.Key.Short(), len(e.Value))
}

// NodeRef is a handle to a peer on the ring. Calls either run in-process
// (*Node) or go over the network (the transport's remote reference), the
// caller cannot tell the difference.
type NodeRef interface {
	ID() hash.ID
	Address() string

	Notify(ctx context.Context, potentialPredecessor NodeRef) ([]NodeRef, error)
	NotifyAndCopyEntries(ctx context.Context, potentialPredecessor NodeRef) (*RefsAndEntries, error)
	Ping(ctx context.Context) error
	InsertEntry(ctx context.Context, entry Entry) error
	InsertReplicas(ctx context.Context, entries []Entry) error
	RemoveEntry(ctx context.Context, entry Entry) error
	RemoveReplicas(ctx context.Context, sendingNodeID hash.ID, entries []Entry) error
	RetrieveEntries(ctx context.Context, id hash.ID) ([]Entry, error)
	LeavesNetwork(ctx context.Context, predecessor NodeRef) error
	Broadcast(ctx context.Context, msg Broadcast) error
}

// NodeInfo is the serializable identity of a NodeRef.
type NodeInfo struct {
	ID      hash.ID `json:"id"`
	Address string  `json:"address"`
}

// String returns a human-readable representation of the node.
func (n NodeInfo) String() string {
	return fmt.Sprintf("Node{ID: %s, Addr: %s}", n.ID.Short(), n.Address)
}

// InfoOf extracts the identity of ref. A nil ref yields the zero NodeInfo.
func InfoOf(ref NodeRef) NodeInfo {
	if ref == nil {
		return NodeInfo{}
	}
	return NodeInfo{ID: ref.ID(), Address: ref.Address()}
}

// InfosOf extracts the identity of every ref.
func InfosOf(refs []NodeRef) []NodeInfo {
	out := make([]NodeInfo, 0, len(refs))
	for _, r := range refs {
		out = append(out, InfoOf(r))
	}
	return out
}

// Broadcast is a ring-wide flood message. Range bounds the part of the ring
// the receiver is responsible for forwarding to.
type Broadcast struct {
	Range       hash.ID `json:"range"`
	Source      hash.ID `json:"source"`
	Target      hash.ID `json:"target"`
	Transaction uint64  `json:"transaction"`
	Hit         bool    `json:"hit"`
}

// RefsAndEntries is the reply of NotifyAndCopyEntries.
type RefsAndEntries struct {
	Refs    []NodeRef
	Entries []Entry
}

// NotifyCallback observes application level events on a node.
type NotifyCallback interface {
	Retrieved(id hash.ID)
	Broadcast(source, target hash.ID, hit bool)
}

// NopCallback ignores every event.
type NopCallback struct{}

func (NopCallback) Retrieved(hash.ID)                {}
func (NopCallback) Broadcast(hash.ID, hash.ID, bool) {}

// Executor runs fire-and-forget tasks. Execute must not block the caller.
type Executor interface {
	Execute(task func(ctx context.Context))
}

// Endpoint accepts inbound calls on behalf of a Node.
type Endpoint interface {
	// Listen starts serving ring maintenance calls.
	Listen() error
	// AcceptEntries additionally enables entry operations.
	AcceptEntries()
	// Disconnect stops serving immediately.
	Disconnect() error
}

// EndpointFactory builds the endpoint for a node during construction.
type EndpointFactory func(node *Node) (Endpoint, error)
