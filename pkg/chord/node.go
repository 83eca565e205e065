package chord

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/hash"
)

// NodeConfig holds the collaborators of a Node. None of them is owned by the
// node; the executor in particular may be shared between nodes.
type NodeConfig struct {
	ID              hash.ID
	Address         string
	References      *References
	Entries         *Entries
	Executor        Executor
	Callback        NotifyCallback
	EndpointFactory EndpointFactory
	Logger          *pkg.Logger
}

func (c NodeConfig) validate() error {
	switch {
	case c.Address == "":
		return fmt.Errorf("%w: address cannot be empty", pkg.ErrConfiguration)
	case c.References == nil:
		return fmt.Errorf("%w: references cannot be nil", pkg.ErrConfiguration)
	case c.References.LocalID() != c.ID:
		return fmt.Errorf("%w: references belong to %s, not %s", pkg.ErrConfiguration, c.References.LocalID().Short(), c.ID.Short())
	case c.Entries == nil:
		return fmt.Errorf("%w: entries cannot be nil", pkg.ErrConfiguration)
	case c.Executor == nil:
		return fmt.Errorf("%w: executor cannot be nil", pkg.ErrConfiguration)
	case c.Callback == nil:
		return fmt.Errorf("%w: notify callback cannot be nil", pkg.ErrConfiguration)
	case c.EndpointFactory == nil:
		return fmt.Errorf("%w: endpoint factory cannot be nil", pkg.ErrConfiguration)
	case c.Logger == nil:
		return fmt.Errorf("%w: logger cannot be nil", pkg.ErrConfiguration)
	}
	return nil
}

// Node serves the remotely invokable operations of a ring member. It reads
// and mutates its References and Entries and replicates to its successors
// through the Executor without waiting for the result.
type Node struct {
	// Node identity
	id      hash.ID
	address string

	references *References
	entries    *Entries
	executor   Executor
	callback   NotifyCallback
	endpoint   Endpoint

	logger *pkg.Logger

	// notify and notifyAndCopyEntries are served one at a time, first come first served
	notifyLock FairMutex

	// highest broadcast transaction this node has forwarded
	transaction atomic.Uint64
}

var _ NodeRef = (*Node)(nil)

// NewNode creates a node, builds its endpoint and starts listening.
func NewNode(cfg NodeConfig) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n := &Node{
		id:         cfg.ID,
		address:    cfg.Address,
		references: cfg.References,
		entries:    cfg.Entries,
		executor:   cfg.Executor,
		callback:   cfg.Callback,
		logger:     cfg.Logger.WithFields(pkg.Fields{"node_id": cfg.ID.Short()}),
	}

	endpoint, err := cfg.EndpointFactory(n)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}
	if endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint factory returned nil", pkg.ErrConfiguration)
	}
	n.endpoint = endpoint

	if err := endpoint.Listen(); err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	n.logger.Info().
		Str("address", n.address).
		Str("id", n.id.String()).
		Msg("Node listening")

	return n, nil
}

// ID returns the node's identifier.
func (n *Node) ID() hash.ID {
	return n.id
}

// Address returns the node's network address.
func (n *Node) Address() string {
	return n.address
}

// References returns the node's routing table.
func (n *Node) References() *References {
	return n.references
}

// Entries returns the node's entry store.
func (n *Node) Entries() *Entries {
	return n.entries
}

// Info returns the serializable identity of the node.
func (n *Node) Info() NodeInfo {
	return NodeInfo{ID: n.id, Address: n.address}
}

// Responsible returns the node believed to be responsible for id, which
// may be this node.
func (n *Node) Responsible(id hash.ID) NodeRef {
	if ref := n.references.FindResponsible(id); ref != nil {
		return ref
	}
	return n
}

// AcceptEntries enables entry operations on the endpoint.
func (n *Node) AcceptEntries() {
	n.endpoint.AcceptEntries()
	n.logger.Info().Msg("Accepting entries")
}

// Disconnect stops serving inbound calls immediately.
func (n *Node) Disconnect() error {
	n.logger.Info().Msg("Disconnecting")
	return n.endpoint.Disconnect()
}

// Notify offers potentialPredecessor as predecessor. The reply holds the
// predecessor as it was before the call (or the candidate if there was none)
// followed by the successor list.
func (n *Node) Notify(ctx context.Context, potentialPredecessor NodeRef) ([]NodeRef, error) {
	if potentialPredecessor == nil {
		return nil, fmt.Errorf("potential predecessor cannot be nil")
	}
	if err := n.notifyLock.LockContext(ctx); err != nil {
		return nil, err
	}
	defer n.notifyLock.Unlock()

	return n.notifyLocked(potentialPredecessor), nil
}

func (n *Node) notifyLocked(potentialPredecessor NodeRef) []NodeRef {
	successors := n.references.GetSuccessors()
	result := make([]NodeRef, 0, len(successors)+1)

	if pred := n.references.GetPredecessor(); pred != nil {
		result = append(result, pred)
	} else {
		result = append(result, potentialPredecessor)
	}
	result = append(result, successors...)

	n.references.AddReferenceAsPredecessor(potentialPredecessor)

	n.logger.Debug().
		Str("candidate", potentialPredecessor.ID().Short()).
		Int("reply_size", len(result)).
		Msg("Notified by potential predecessor")

	return result
}

// NotifyAndCopyEntries works like Notify and also returns every entry in
// (n, potentialPredecessor], the ones the candidate has to hold.
func (n *Node) NotifyAndCopyEntries(ctx context.Context, potentialPredecessor NodeRef) (*RefsAndEntries, error) {
	if potentialPredecessor == nil {
		return nil, fmt.Errorf("potential predecessor cannot be nil")
	}
	if err := n.notifyLock.LockContext(ctx); err != nil {
		return nil, err
	}
	defer n.notifyLock.Unlock()

	entries := n.entries.GetEntriesInInterval(n.id, potentialPredecessor.ID())
	refs := n.notifyLocked(potentialPredecessor)

	n.logger.Debug().
		Str("candidate", potentialPredecessor.ID().Short()).
		Int("entries", len(entries)).
		Msg("Copied entries to potential predecessor")

	return &RefsAndEntries{Refs: refs, Entries: entries}, nil
}

// Ping does nothing; returning is the proof of life.
func (n *Node) Ping(ctx context.Context) error {
	return nil
}

// ownedLocally reports whether id lies in (predecessor, n]. Without a
// predecessor every id is treated as owned.
func (n *Node) ownedLocally(id hash.ID) (bool, NodeRef) {
	pred := n.references.GetPredecessor()
	if pred == nil {
		return true, nil
	}
	return id.IsInInterval(pred.ID(), n.id), pred
}

// InsertEntry stores entry if this node owns its key and replicates it to
// every successor. Otherwise the entry is handed to the predecessor.
func (n *Node) InsertEntry(ctx context.Context, entry Entry) error {
	if owned, pred := n.ownedLocally(entry.Key); !owned {
		n.logger.Debug().
			Str("key", entry.Key.Short()).
			Str("predecessor", pred.ID().Short()).
			Msg("Forwarding insert to predecessor")
		return pred.InsertEntry(ctx, entry)
	}

	n.entries.Add(entry)

	replicas := []Entry{entry}
	n.replicate("insert_replicas", func(ctx context.Context, successor NodeRef) error {
		return successor.InsertReplicas(ctx, replicas)
	})
	return nil
}

// InsertReplicas stores entries unconditionally.
func (n *Node) InsertReplicas(ctx context.Context, entries []Entry) error {
	n.entries.AddAll(entries)
	n.logger.Debug().Int("count", len(entries)).Msg("Stored replicas")
	return nil
}

// RemoveEntry removes entry if this node owns its key and removes its
// replicas from every successor. Otherwise the call goes to the predecessor.
func (n *Node) RemoveEntry(ctx context.Context, entry Entry) error {
	if owned, pred := n.ownedLocally(entry.Key); !owned {
		n.logger.Debug().
			Str("key", entry.Key.Short()).
			Str("predecessor", pred.ID().Short()).
			Msg("Forwarding remove to predecessor")
		return pred.RemoveEntry(ctx, entry)
	}

	n.entries.Remove(entry)

	replicas := []Entry{entry}
	n.replicate("remove_replicas", func(ctx context.Context, successor NodeRef) error {
		return successor.RemoveReplicas(ctx, n.id, replicas)
	})
	return nil
}

// RemoveReplicas deletes the given entries. An empty set asks for a full
// resync: every entry in (n, sendingNodeID] is dropped.
func (n *Node) RemoveReplicas(ctx context.Context, sendingNodeID hash.ID, entries []Entry) error {
	if len(entries) > 0 {
		n.entries.RemoveAll(entries)
		return nil
	}

	before := n.entries.GetNumberOfStoredEntries()
	stale := n.entries.GetEntriesInInterval(n.id, sendingNodeID)
	n.entries.RemoveAll(stale)

	n.logger.Debug().
		Str("sender", sendingNodeID.Short()).
		Int("before", before).
		Int("removed", len(stale)).
		Int("after", n.entries.GetNumberOfStoredEntries()).
		Msg("Removed replicas in interval")
	return nil
}

// RetrieveEntries returns a copy of the entries stored under id, asking the
// predecessor instead when this node does not own id.
func (n *Node) RetrieveEntries(ctx context.Context, id hash.ID) ([]Entry, error) {
	if owned, pred := n.ownedLocally(id); !owned && id != n.id {
		// a node that joined in between is responsible, this should be rare
		n.logger.WithLevel(zerolog.FatalLevel).
			Str("id", id.String()).
			Str("predecessor", pred.ID().String()).
			Msg("Lookup reached a node that is not responsible")
		return pred.RetrieveEntries(ctx, id)
	}

	n.callback.Retrieved(id)
	return n.entries.GetEntries(id), nil
}

// LeavesNetwork tells the node that its predecessor left and newPredecessor
// takes its place. Entries are not migrated here.
func (n *Node) LeavesNetwork(ctx context.Context, newPredecessor NodeRef) error {
	old := n.references.GetPredecessor()

	n.logger.Info().
		Str("new_predecessor", InfoOf(newPredecessor).ID.Short()).
		Msg("Predecessor leaves network, updating references")
	n.logger.Debug().Str("references", n.references.String()).Msg("References before update")

	if old != nil {
		n.references.RemoveReference(old)
	}
	if newPredecessor != nil && newPredecessor.ID() != n.id {
		n.references.AddReferenceAsPredecessor(newPredecessor)
	}

	n.logger.Debug().Str("references", n.references.String()).Msg("References after update")
	return nil
}

// replicate submits op for every current successor. Failures are logged
// and dropped.
func (n *Node) replicate(op string, call func(ctx context.Context, successor NodeRef) error) {
	for _, successor := range n.references.GetSuccessors() {
		successor := successor
		n.executor.Execute(func(ctx context.Context) {
			if err := call(ctx, successor); err != nil {
				n.logger.Debug().
					Err(err).
					Str("op", op).
					Str("successor", successor.Address()).
					Msg("Replication failed")
			}
		})
	}
}

// String returns a human-readable representation of the node.
func (n *Node) String() string {
	return n.Info().String()
}
