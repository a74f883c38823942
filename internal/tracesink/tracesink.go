// Package tracesink flattens a reconstructed trace tree into
// TLV-packed stream-cache fields and publishes it, first deleting
// whatever emulated subtree it supersedes. The delete is a separate
// stream-cache command ahead of the atomic write-and-publish, not part
// of that transaction.
//
// Grounded on the field-packing-then-atomic-publish shape described
// for the trace-result inserter in the original scanner's task
// emulator (original_source/ton-trace-task-emulator/src/
// TaskResultInserter.cpp): every node of a trace is written before the
// notification that announces the trace is readable.
package tracesink

import (
	"context"
	"time"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/wireenc"
)

// Cache is the narrow stream-cache surface this sink needs.
type Cache interface {
	PutFields(ctx context.Context, traceID string, fields map[string][]byte, now time.Time) error
	DeleteFields(ctx context.Context, traceID string, fieldNames ...string) error
}

type Sink struct {
	cache Cache
}

func New(cache Cache) *Sink {
	return &Sink{cache: cache}
}

// Publish flattens trace into one field per node (keyed by
// "node:<in_msg_hash_hex>") plus one field per classified interface
// (keyed by "iface:<account_raw>"), then writes every field and
// publishes the new_trace notification atomically. superseded lists
// node keys from a prior emulation of this trace that no longer exist
// in the fresh tree (an emulated subtree that has since been
// confirmed on-chain with different children) — those fields are
// deleted first, with a separate DeleteFields command before the
// atomic PutFields, so stale and fresh nodes never coexist; a reader
// between the two commands sees neither.
func (s *Sink) Publish(ctx context.Context, trace *tonmodel.Trace, superseded []string) error {
	traceID := trace.ID.Hex()

	fields := make(map[string][]byte)
	if trace.Root != nil {
		flattenNode(trace.Root, fields)
	}
	for account, records := range trace.Interfaces {
		fields["iface:"+account.ToRaw()] = packInterfaces(account, records)
	}

	if len(superseded) > 0 {
		if err := s.cache.DeleteFields(ctx, traceID, superseded...); err != nil {
			return err
		}
	}
	return s.cache.PutFields(ctx, traceID, fields, time.Now())
}

func flattenNode(node *tonmodel.TraceNode, out map[string][]byte) {
	w := wireenc.NewWriter()
	w.PutBytes(wireenc.TagNodeInMsgHash, node.NodeID[:])
	w.PutString(wireenc.TagNodeAccount, node.Account.ToRaw())
	w.PutUint(wireenc.TagNodeLT, node.Lt)
	w.PutBool(wireenc.TagNodeEmulated, node.Emulated)
	for _, child := range node.Children {
		w.PutBytes(wireenc.TagNodeChildInMsgs, child.NodeID[:])
	}
	out["node:"+node.NodeID.Hex()] = w.Bytes()

	for _, child := range node.Children {
		flattenNode(child, out)
	}
}

func packInterfaces(account ton.AccountID, records []tonmodel.InterfaceRecord) []byte {
	w := wireenc.NewWriter()
	w.PutString(wireenc.TagIfaceAccount, account.ToRaw())
	for _, r := range records {
		w.PutBytes(wireenc.TagIfaceCodeHash, r.CodeHash[:])
		w.PutUint(wireenc.TagIfaceKinds, uint64(r.Kind))
		w.PutUint(wireenc.TagIfaceLT, r.LastTransactionLt)
	}
	return w.Bytes()
}

// NodeKeys collects every "node:<hash>" key reachable from root, for
// the caller to diff a previous emulation's key set against a fresh
// one and compute the superseded list Publish expects.
func NodeKeys(root *tonmodel.TraceNode) []string {
	if root == nil {
		return nil
	}
	var out []string
	var walk func(n *tonmodel.TraceNode)
	walk = func(n *tonmodel.TraceNode) {
		out = append(out, "node:"+n.NodeID.Hex())
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
