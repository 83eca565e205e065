package transport

import (
	"context"
	"fmt"

	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

// RemoteRef is a chord.NodeRef whose calls go over gRPC.
type RemoteRef struct {
	client *GRPCClient
	info   chord.NodeInfo
}

var _ chord.NodeRef = (*RemoteRef)(nil)

func (r *RemoteRef) ID() hash.ID {
	return r.info.ID
}

func (r *RemoteRef) Address() string {
	return r.info.Address
}

func (r *RemoteRef) Notify(ctx context.Context, potentialPredecessor chord.NodeRef) ([]chord.NodeRef, error) {
	req := &NotifyRequest{Candidate: chord.InfoOf(potentialPredecessor)}
	resp := &NotifyResponse{}
	if err := r.call(ctx, MethodNotify, req, resp); err != nil {
		return nil, err
	}
	return r.client.Refs(resp.Refs), nil
}

func (r *RemoteRef) NotifyAndCopyEntries(ctx context.Context, potentialPredecessor chord.NodeRef) (*chord.RefsAndEntries, error) {
	req := &NotifyRequest{Candidate: chord.InfoOf(potentialPredecessor)}
	resp := &NotifyAndCopyResponse{}
	if err := r.call(ctx, MethodNotifyAndCopyEntries, req, resp); err != nil {
		return nil, err
	}
	return &chord.RefsAndEntries{
		Refs:    r.client.Refs(resp.Refs),
		Entries: nonNil(resp.Entries),
	}, nil
}

func (r *RemoteRef) Ping(ctx context.Context) error {
	return r.call(ctx, MethodPing, &Empty{}, &Empty{})
}

func (r *RemoteRef) InsertEntry(ctx context.Context, entry chord.Entry) error {
	return r.call(ctx, MethodInsertEntry, &EntryRequest{Entry: entry}, &Empty{})
}

func (r *RemoteRef) InsertReplicas(ctx context.Context, entries []chord.Entry) error {
	return r.call(ctx, MethodInsertReplicas, &EntriesRequest{Entries: entries}, &Empty{})
}

func (r *RemoteRef) RemoveEntry(ctx context.Context, entry chord.Entry) error {
	return r.call(ctx, MethodRemoveEntry, &EntryRequest{Entry: entry}, &Empty{})
}

func (r *RemoteRef) RemoveReplicas(ctx context.Context, sendingNodeID hash.ID, entries []chord.Entry) error {
	req := &RemoveReplicasRequest{Sender: sendingNodeID, Entries: entries}
	return r.call(ctx, MethodRemoveReplicas, req, &Empty{})
}

func (r *RemoteRef) RetrieveEntries(ctx context.Context, id hash.ID) ([]chord.Entry, error) {
	resp := &RetrieveResponse{}
	if err := r.call(ctx, MethodRetrieveEntries, &RetrieveRequest{ID: id}, resp); err != nil {
		return nil, err
	}
	return nonNil(resp.Entries), nil
}

func (r *RemoteRef) LeavesNetwork(ctx context.Context, predecessor chord.NodeRef) error {
	req := &LeavesNetworkRequest{}
	if predecessor != nil {
		info := chord.InfoOf(predecessor)
		req.Predecessor = &info
	}
	return r.call(ctx, MethodLeavesNetwork, req, &Empty{})
}

func (r *RemoteRef) Broadcast(ctx context.Context, msg chord.Broadcast) error {
	return r.call(ctx, MethodBroadcast, &BroadcastRequest{Message: msg}, &Empty{})
}

func (r *RemoteRef) call(ctx context.Context, method string, req, resp any) error {
	return r.client.invoke(ctx, r.info.Address, method, req, resp)
}

// String returns a human-readable representation of the remote node.
func (r *RemoteRef) String() string {
	return fmt.Sprintf("Remote%s", r.info)
}

func nonNil(entries []chord.Entry) []chord.Entry {
	if entries == nil {
		return []chord.Entry{}
	}
	return entries
}
