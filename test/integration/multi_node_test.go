package integration

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/ringstore/internal/transport"
	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

const (
	authToken     = "ring-secret"
	successorSize = 2
	waitFor       = 3 * time.Second
	tick          = 20 * time.Millisecond
)

type eventCounter struct {
	mu         sync.Mutex
	retrieved  int
	broadcasts int
}

func (c *eventCounter) Retrieved(hash.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retrieved++
}

func (c *eventCounter) Broadcast(hash.ID, hash.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts++
}

func (c *eventCounter) broadcastCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcasts
}

// ringNode is one member of a test cluster.
type ringNode struct {
	*chord.Node
	client *transport.GRPCClient
	events *eventCounter
}

// testCluster is a set of nodes talking gRPC over loopback.
type testCluster struct {
	nodes  []*ringNode
	logger *pkg.Logger
}

// newTestCluster starts one node per id and wires them into a ring: every
// node knows its predecessor, its successors and every other node as finger.
func newTestCluster(t *testing.T, ids ...uint64) *testCluster {
	t.Helper()

	tc := &testCluster{logger: pkg.Nop()}
	for _, id := range ids {
		tc.nodes = append(tc.nodes, tc.startNode(t, id))
	}
	sort.Slice(tc.nodes, func(i, j int) bool {
		return tc.nodes[i].ID().Compare(tc.nodes[j].ID()) < 0
	})

	for i, n := range tc.nodes {
		for j, other := range tc.nodes {
			if i != j {
				n.References().AddReference(n.client.Ref(other.Info()))
			}
		}
		pred := tc.nodes[(i+len(tc.nodes)-1)%len(tc.nodes)]
		n.References().AddReferenceAsPredecessor(n.client.Ref(pred.Info()))
	}
	for _, n := range tc.nodes {
		n.AcceptEntries()
	}
	return tc
}

func (tc *testCluster) startNode(t *testing.T, id uint64) *ringNode {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pool := chord.NewWorkerPool(4)
	client := transport.NewGRPCClient(tc.logger, 2*time.Second, authToken)
	events := &eventCounter{}

	nodeID := hash.FromUint64(id)
	node, err := chord.NewNode(chord.NodeConfig{
		ID:         nodeID,
		Address:    listener.Addr().String(),
		References: chord.NewReferences(nodeID, successorSize),
		Entries:    chord.NewEntries(),
		Executor:   pool,
		Callback:   events,
		EndpointFactory: transport.NewEndpointFactory(client, transport.ServerConfig{
			Listener:  listener,
			AuthToken: authToken,
		}, tc.logger),
		Logger: tc.logger,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		node.Disconnect()
		pool.Close()
		client.Close()
	})
	return &ringNode{Node: node, client: client, events: events}
}

// node returns the member with id.
func (tc *testCluster) node(id uint64) *ringNode {
	for _, n := range tc.nodes {
		if n.ID() == hash.FromUint64(id) {
			return n
		}
	}
	return nil
}

// remote returns a gRPC reference to member id as seen from member from.
func (tc *testCluster) remote(from, id uint64) chord.NodeRef {
	target := tc.node(id)
	return tc.node(from).client.Connect(target.ID(), target.Address())
}

func holds(n *ringNode, e chord.Entry) func() bool {
	return func() bool { return n.Entries().Contains(e) }
}

func TestThreeNodeRing_ReplicasConverge(t *testing.T) {
	tc := newTestCluster(t, 100, 200, 300)
	ctx := context.Background()

	e := chord.NewEntry(hash.FromUint64(150), []byte("value"))

	owner := tc.node(100).Responsible(e.Key)
	assert.Equal(t, hash.FromUint64(200), owner.ID())
	require.NoError(t, owner.InsertEntry(ctx, e))

	assert.True(t, tc.node(200).Entries().Contains(e))
	assert.Eventually(t, holds(tc.node(300), e), waitFor, tick)
	assert.Eventually(t, holds(tc.node(100), e), waitFor, tick)

	got, err := tc.remote(100, 200).RetrieveEntries(ctx, e.Key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, e.Equals(got[0]))

	require.NoError(t, owner.RemoveEntry(ctx, e))
	for _, n := range tc.nodes {
		assert.Eventually(t, func() bool { return !n.Entries().Contains(e) }, waitFor, tick)
	}
}

func TestFourNodeRing_StaleRouteIsForwarded(t *testing.T) {
	tc := newTestCluster(t, 100, 200, 300, 400)
	ctx := context.Background()

	// 350 belongs to 400, sent to 200 it travels 200 -> 100 -> 400
	e := chord.NewEntry(hash.FromUint64(350), []byte("stale"))
	require.NoError(t, tc.remote(300, 200).InsertEntry(ctx, e))

	assert.True(t, tc.node(400).Entries().Contains(e))
	assert.Eventually(t, holds(tc.node(100), e), waitFor, tick)
	assert.Eventually(t, holds(tc.node(200), e), waitFor, tick)
	assert.False(t, tc.node(300).Entries().Contains(e), "300 is neither owner nor replica")

	got, err := tc.remote(300, 100).RetrieveEntries(ctx, e.Key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("stale"), got[0].Value)
}

func TestFourNodeRing_BroadcastReachesEveryNodeOnce(t *testing.T) {
	tc := newTestCluster(t, 100, 200, 300, 400)
	ctx := context.Background()

	txn := tc.node(300).StartBroadcast(ctx, hash.FromUint64(1), true)
	assert.Equal(t, uint64(1), txn)

	for _, n := range tc.nodes {
		assert.Equal(t, 1, n.events.broadcastCount(), "node %s", n.ID().Short())
		assert.Equal(t, uint64(1), n.Transaction())
	}

	// a replayed message is delivered but not forwarded again
	stale := chord.Broadcast{
		Range:       hash.FromUint64(300),
		Source:      hash.FromUint64(300),
		Target:      hash.FromUint64(1),
		Transaction: 1,
	}
	require.NoError(t, tc.remote(300, 100).Broadcast(ctx, stale))
	assert.Equal(t, 2, tc.node(100).events.broadcastCount())
	assert.Equal(t, 1, tc.node(200).events.broadcastCount())
}

func TestTwoNodeRing_NotifySnapshot(t *testing.T) {
	tc := newTestCluster(t, 100, 300)
	ctx := context.Background()

	joining := tc.startNode(t, 200)
	joining.AcceptEntries()

	e := chord.NewEntry(hash.FromUint64(150), []byte("moves"))
	require.NoError(t, tc.node(300).InsertEntry(ctx, e))

	res, err := joining.client.Connect(hash.FromUint64(300), tc.node(300).Address()).
		NotifyAndCopyEntries(ctx, joining.Node)
	require.NoError(t, err)

	// reply carries the predecessor from before the call
	require.NotEmpty(t, res.Refs)
	assert.Equal(t, hash.FromUint64(100), res.Refs[0].ID())
	assert.Contains(t, res.Entries, e)

	pred := tc.node(300).References().GetPredecessor()
	require.NotNil(t, pred)
	assert.Equal(t, hash.FromUint64(200), pred.ID())
}
