package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
)

const maxMsgSize = 4 * 1024 * 1024 // 4MB

// ServerConfig configures the endpoint of a node.
type ServerConfig struct {
	// ListenAddress to bind, the node's address when empty
	ListenAddress string
	// Listener bound ahead of time, takes precedence over ListenAddress
	Listener  net.Listener
	AuthToken string // Authentication token for node-to-node communication
}

// GRPCServer exposes a chord.Node as the node service. It implements
// chord.Endpoint.
type GRPCServer struct {
	node   *chord.Node
	client *GRPCClient
	config ServerConfig
	logger *pkg.Logger

	server   *grpc.Server
	health   *health.Server
	listener net.Listener

	accepting atomic.Bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

var (
	_ chord.Endpoint    = (*GRPCServer)(nil)
	_ NodeServiceServer = (*GRPCServer)(nil)
)

// NewEndpointFactory returns the factory a chord.Node uses to build its
// endpoint. The client learns about the node so that references to it stay
// in-process.
func NewEndpointFactory(client *GRPCClient, cfg ServerConfig, logger *pkg.Logger) chord.EndpointFactory {
	return func(node *chord.Node) (chord.Endpoint, error) {
		s, err := NewGRPCServer(node, client, cfg, logger)
		if err != nil {
			return nil, err
		}
		client.SetLocal(node)
		return s, nil
	}
}

// NewGRPCServer creates a new gRPC server for the given node.
func NewGRPCServer(node *chord.Node, client *GRPCClient, cfg ServerConfig, logger *pkg.Logger) (*GRPCServer, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node cannot be nil", pkg.ErrConfiguration)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", pkg.ErrConfiguration)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", pkg.ErrConfiguration)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = node.Address()
	}

	return &GRPCServer{
		node:   node,
		client: client,
		config: cfg,
		logger: logger.WithComponent("grpc_server"),
	}, nil
}

// Listen starts serving ring maintenance calls. Entry operations are
// rejected until AcceptEntries.
func (s *GRPCServer) Listen() error {
	listener := s.config.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.config.ListenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}
	s.listener = listener

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ChainUnaryInterceptor(
			AuthInterceptor(s.config.AuthToken),
			s.stateInterceptor,
		),
	}

	s.server = grpc.NewServer(opts...)
	s.server.RegisterService(&nodeServiceDesc, s)

	s.health = health.NewServer()
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.server, s.health)

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting gRPC server")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	return nil
}

// AcceptEntries enables entry operations.
func (s *GRPCServer) AcceptEntries() {
	s.accepting.Store(true)
}

// Accepting reports whether entry operations are served.
func (s *GRPCServer) Accepting() bool {
	return s.accepting.Load()
}

// Addr returns the bound address, nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Disconnect stops the server immediately, in-flight calls are cancelled.
func (s *GRPCServer) Disconnect() error {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping gRPC server")
		s.accepting.Store(false)

		if s.health != nil {
			s.health.Shutdown()
		}
		if s.server != nil {
			s.server.Stop()
		} else if s.config.Listener != nil {
			s.config.Listener.Close()
		}
		s.wg.Wait()
	})
	return nil
}

func (s *GRPCServer) stateInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if entryMethods[info.FullMethod] && !s.accepting.Load() {
		return nil, status.Error(codes.Unavailable, pkg.ErrNotAcceptingEntries.Error())
	}
	return handler(ctx, req)
}

// Notify implements the Notify RPC.
func (s *GRPCServer) Notify(ctx context.Context, req *NotifyRequest) (*NotifyResponse, error) {
	refs, err := s.node.Notify(ctx, s.client.Ref(req.Candidate))
	if err != nil {
		return nil, toStatus(err)
	}
	return &NotifyResponse{Refs: chord.InfosOf(refs)}, nil
}

// NotifyAndCopyEntries implements the NotifyAndCopyEntries RPC.
func (s *GRPCServer) NotifyAndCopyEntries(ctx context.Context, req *NotifyRequest) (*NotifyAndCopyResponse, error) {
	res, err := s.node.NotifyAndCopyEntries(ctx, s.client.Ref(req.Candidate))
	if err != nil {
		return nil, toStatus(err)
	}
	return &NotifyAndCopyResponse{
		Refs:    chord.InfosOf(res.Refs),
		Entries: res.Entries,
	}, nil
}

// Ping implements the Ping RPC.
func (s *GRPCServer) Ping(ctx context.Context, _ *Empty) (*Empty, error) {
	return &Empty{}, toStatus(s.node.Ping(ctx))
}

// InsertEntry implements the InsertEntry RPC.
func (s *GRPCServer) InsertEntry(ctx context.Context, req *EntryRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.node.InsertEntry(ctx, req.Entry))
}

// InsertReplicas implements the InsertReplicas RPC.
func (s *GRPCServer) InsertReplicas(ctx context.Context, req *EntriesRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.node.InsertReplicas(ctx, req.Entries))
}

// RemoveEntry implements the RemoveEntry RPC.
func (s *GRPCServer) RemoveEntry(ctx context.Context, req *EntryRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.node.RemoveEntry(ctx, req.Entry))
}

// RemoveReplicas implements the RemoveReplicas RPC.
func (s *GRPCServer) RemoveReplicas(ctx context.Context, req *RemoveReplicasRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.node.RemoveReplicas(ctx, req.Sender, req.Entries))
}

// RetrieveEntries implements the RetrieveEntries RPC.
func (s *GRPCServer) RetrieveEntries(ctx context.Context, req *RetrieveRequest) (*RetrieveResponse, error) {
	entries, err := s.node.RetrieveEntries(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RetrieveResponse{Entries: entries}, nil
}

// LeavesNetwork implements the LeavesNetwork RPC.
func (s *GRPCServer) LeavesNetwork(ctx context.Context, req *LeavesNetworkRequest) (*Empty, error) {
	var pred chord.NodeRef
	if req.Predecessor != nil {
		pred = s.client.Ref(*req.Predecessor)
	}
	return &Empty{}, toStatus(s.node.LeavesNetwork(ctx, pred))
}

// Broadcast implements the Broadcast RPC.
func (s *GRPCServer) Broadcast(ctx context.Context, req *BroadcastRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.node.Broadcast(ctx, req.Message))
}

// toStatus maps node errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pkg.ErrNotAcceptingEntries):
		return status.Error(codes.Unavailable, pkg.ErrNotAcceptingEntries.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, pkg.ErrCommunication):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
