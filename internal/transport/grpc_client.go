package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

// DefaultTimeout applies to calls whose context carries no deadline.
const DefaultTimeout = 5 * time.Second

// GRPCClient manages connections to remote ring nodes and hands out
// references to them.
type GRPCClient struct {
	logger    *pkg.Logger
	authToken string

	// Connection pool
	connections map[string]*grpc.ClientConn
	connMu      sync.RWMutex

	// Default timeout for RPC calls
	timeout time.Duration

	// local node, served in-process instead of over the network
	local   *chord.Node
	localMu sync.RWMutex
}

// NewGRPCClient creates a new gRPC client.
func NewGRPCClient(logger *pkg.Logger, timeout time.Duration, authToken string) *GRPCClient {
	if logger == nil {
		logger = pkg.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &GRPCClient{
		logger:      logger.WithComponent("grpc_client"),
		authToken:   authToken,
		connections: make(map[string]*grpc.ClientConn),
		timeout:     timeout,
	}
}

// SetLocal registers the node living in this process. References to its ID
// resolve to the node itself.
func (c *GRPCClient) SetLocal(node *chord.Node) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	c.local = node
}

// Ref returns a reference for info.
func (c *GRPCClient) Ref(info chord.NodeInfo) chord.NodeRef {
	c.localMu.RLock()
	local := c.local
	c.localMu.RUnlock()

	if local != nil && local.ID() == info.ID {
		return local
	}
	return &RemoteRef{client: c, info: info}
}

// Refs returns a reference for each info.
func (c *GRPCClient) Refs(infos []chord.NodeInfo) []chord.NodeRef {
	refs := make([]chord.NodeRef, 0, len(infos))
	for _, info := range infos {
		refs = append(refs, c.Ref(info))
	}
	return refs
}

// Connect returns a reference for a peer known only by address. The peer is
// asked for nothing; id is what the caller believes it to be.
func (c *GRPCClient) Connect(id hash.ID, address string) chord.NodeRef {
	return c.Ref(chord.NodeInfo{ID: id, Address: address})
}

// getConnection returns a connection to the given address, creating one if needed.
func (c *GRPCClient) getConnection(address string) (*grpc.ClientConn, error) {
	c.connMu.RLock()
	conn, exists := c.connections[address]
	c.connMu.RUnlock()

	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Double-check after acquiring write lock
	conn, exists = c.connections[address]
	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithUnaryInterceptor(AuthClientInterceptor(c.authToken)),
	}

	newConn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
	}

	c.connections[address] = newConn
	c.logger.Debug().Str("address", address).Msg("Created new gRPC connection")

	return newConn, nil
}

// invoke calls method on the node at address. Every failure comes back as
// a *pkg.CommunicationError.
func (c *GRPCClient) invoke(ctx context.Context, address, method string, req, resp any) error {
	conn, err := c.getConnection(address)
	if err != nil {
		return &pkg.CommunicationError{Op: method, Address: address, Err: err}
	}

	// Use the provided context with a timeout fallback
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		if st, ok := status.FromError(err); ok &&
			st.Code() == codes.Unavailable &&
			st.Message() == pkg.ErrNotAcceptingEntries.Error() {
			err = pkg.ErrNotAcceptingEntries
		}
		return &pkg.CommunicationError{Op: method, Address: address, Err: err}
	}
	return nil
}

// Close closes all connections.
func (c *GRPCClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.logger.Info().
		Int("connections", len(c.connections)).
		Msg("Closing all gRPC connections")

	for address, conn := range c.connections {
		if err := conn.Close(); err != nil {
			c.logger.Error().
				Err(err).
				Str("address", address).
				Msg("Failed to close connection")
		}
	}

	c.connections = make(map[string]*grpc.ClientConn)
	return nil
}
