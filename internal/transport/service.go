package transport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "ringstore.NodeService"

// Method names of the node service.
const (
	MethodNotify               = "Notify"
	MethodNotifyAndCopyEntries = "NotifyAndCopyEntries"
	MethodPing                 = "Ping"
	MethodInsertEntry          = "InsertEntry"
	MethodInsertReplicas       = "InsertReplicas"
	MethodRemoveEntry          = "RemoveEntry"
	MethodRemoveReplicas       = "RemoveReplicas"
	MethodRetrieveEntries      = "RetrieveEntries"
	MethodLeavesNetwork        = "LeavesNetwork"
	MethodBroadcast            = "Broadcast"
)

// entryMethods are only served once the endpoint accepts entries.
var entryMethods = map[string]bool{
	fullMethod(MethodInsertEntry):     true,
	fullMethod(MethodInsertReplicas):  true,
	fullMethod(MethodRemoveEntry):     true,
	fullMethod(MethodRemoveReplicas):  true,
	fullMethod(MethodRetrieveEntries): true,
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// NodeServiceServer is the server side of the node service.
type NodeServiceServer interface {
	Notify(context.Context, *NotifyRequest) (*NotifyResponse, error)
	NotifyAndCopyEntries(context.Context, *NotifyRequest) (*NotifyAndCopyResponse, error)
	Ping(context.Context, *Empty) (*Empty, error)
	InsertEntry(context.Context, *EntryRequest) (*Empty, error)
	InsertReplicas(context.Context, *EntriesRequest) (*Empty, error)
	RemoveEntry(context.Context, *EntryRequest) (*Empty, error)
	RemoveReplicas(context.Context, *RemoveReplicasRequest) (*Empty, error)
	RetrieveEntries(context.Context, *RetrieveRequest) (*RetrieveResponse, error)
	LeavesNetwork(context.Context, *LeavesNetworkRequest) (*Empty, error)
	Broadcast(context.Context, *BroadcastRequest) (*Empty, error)
}

// unaryMethod adapts a typed handler to grpc.MethodDesc.
func unaryMethod[Req, Resp any](name string, call func(NodeServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NodeServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NodeServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodNotify, NodeServiceServer.Notify),
		unaryMethod(MethodNotifyAndCopyEntries, NodeServiceServer.NotifyAndCopyEntries),
		unaryMethod(MethodPing, NodeServiceServer.Ping),
		unaryMethod(MethodInsertEntry, NodeServiceServer.InsertEntry),
		unaryMethod(MethodInsertReplicas, NodeServiceServer.InsertReplicas),
		unaryMethod(MethodRemoveEntry, NodeServiceServer.RemoveEntry),
		unaryMethod(MethodRemoveReplicas, NodeServiceServer.RemoveReplicas),
		unaryMethod(MethodRetrieveEntries, NodeServiceServer.RetrieveEntries),
		unaryMethod(MethodLeavesNetwork, NodeServiceServer.LeavesNetwork),
		unaryMethod(MethodBroadcast, NodeServiceServer.Broadcast),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringstore/node_service",
}
