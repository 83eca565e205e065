package chord

import (
	"context"

	"github.com/zde37/ringstore/pkg/hash"
)

// Broadcast delivers msg to the local callback and, if msg carries a
// transaction newer than any seen before, floods it to the fingers between
// this node and msg.Range. Forwarding errors are logged and never returned.
func (n *Node) Broadcast(ctx context.Context, msg Broadcast) error {
	if n.advanceTransaction(msg.Transaction) {
		n.forwardBroadcast(ctx, msg)
	} else {
		n.logger.Debug().
			Uint64("transaction", msg.Transaction).
			Uint64("watermark", n.transaction.Load()).
			Msg("Stale broadcast not forwarded")
	}

	n.callback.Broadcast(msg.Source, msg.Target, msg.Hit)
	return nil
}

// StartBroadcast originates a broadcast covering the whole ring under the
// next transaction ID and returns that ID.
func (n *Node) StartBroadcast(ctx context.Context, target hash.ID, hit bool) uint64 {
	var txn uint64
	for {
		cur := n.transaction.Load()
		txn = cur + 1
		if n.transaction.CompareAndSwap(cur, txn) {
			break
		}
	}

	msg := Broadcast{
		Range:       n.id,
		Source:      n.id,
		Target:      target,
		Transaction: txn,
		Hit:         hit,
	}
	n.logger.Info().
		Uint64("transaction", txn).
		Str("target", target.Short()).
		Bool("hit", hit).
		Msg("Starting broadcast")

	n.forwardBroadcast(ctx, msg)
	n.callback.Broadcast(msg.Source, msg.Target, msg.Hit)
	return txn
}

// Transaction returns the highest broadcast transaction seen so far.
func (n *Node) Transaction() uint64 {
	return n.transaction.Load()
}

// advanceTransaction moves the watermark to txn if txn is newer.
func (n *Node) advanceTransaction(txn uint64) bool {
	for {
		cur := n.transaction.Load()
		if txn <= cur {
			return false
		}
		if n.transaction.CompareAndSwap(cur, txn) {
			return true
		}
	}
}

// forwardBroadcast walks the fingers in ring order starting after this node.
// Each finger inside (n, msg.Range) gets a copy bounded by the next finger if
// that one is inside the bound too, otherwise by the original bound, so the
// sub-ranges never overlap. The walk stops at the first finger outside the
// bound since every later one lies further away.
func (n *Node) forwardBroadcast(ctx context.Context, msg Broadcast) {
	fingers := n.references.GetSortedFingerTable()

	for i, finger := range fingers {
		if !hash.Between(finger.ID(), n.id, msg.Range) {
			n.logger.Debug().
				Str("finger", finger.ID().Short()).
				Str("range", msg.Range.Short()).
				Msg("Finger outside broadcast range, stop forwarding")
			break
		}

		fwd := msg
		if i < len(fingers)-1 && hash.Between(fingers[i+1].ID(), n.id, msg.Range) {
			fwd.Range = fingers[i+1].ID()
		}

		n.logger.Debug().
			Str("to", finger.ID().Short()).
			Str("range", fwd.Range.Short()).
			Uint64("transaction", fwd.Transaction).
			Msg("Forwarding broadcast")

		if err := finger.Broadcast(ctx, fwd); err != nil {
			n.logger.Warn().
				Err(err).
				Str("to", finger.Address()).
				Msg("Failed to forward broadcast")
		}
	}
}
