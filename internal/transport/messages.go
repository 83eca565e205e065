package transport

import (
	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

// Wire messages of the node service, encoded by jsonCodec.

type Empty struct{}

type NotifyRequest struct {
	Candidate chord.NodeInfo `json:"candidate"`
}

type NotifyResponse struct {
	Refs []chord.NodeInfo `json:"refs"`
}

type NotifyAndCopyResponse struct {
	Refs    []chord.NodeInfo `json:"refs"`
	Entries []chord.Entry    `json:"entries"`
}

type EntryRequest struct {
	Entry chord.Entry `json:"entry"`
}

type EntriesRequest struct {
	Entries []chord.Entry `json:"entries"`
}

type RemoveReplicasRequest struct {
	Sender  hash.ID       `json:"sender"`
	Entries []chord.Entry `json:"entries"`
}

type RetrieveRequest struct {
	ID hash.ID `json:"id"`
}

type RetrieveResponse struct {
	Entries []chord.Entry `json:"entries"`
}

// LeavesNetworkRequest carries the replacement predecessor, nil if unknown.
type LeavesNetworkRequest struct {
	Predecessor *chord.NodeInfo `json:"predecessor,omitempty"`
}

type BroadcastRequest struct {
	Message chord.Broadcast `json:"message"`
}
