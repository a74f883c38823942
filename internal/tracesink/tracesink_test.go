package tracesink

import (
	"context"
	"testing"
	"time"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
)

type fakeCache struct {
	putFields  map[string][]byte
	deleted    []string
}

func (f *fakeCache) PutFields(ctx context.Context, traceID string, fields map[string][]byte, now time.Time) error {
	f.putFields = fields
	return nil
}

func (f *fakeCache) DeleteFields(ctx context.Context, traceID string, fieldNames ...string) error {
	f.deleted = append(f.deleted, fieldNames...)
	return nil
}

func buildTrace() *tonmodel.Trace {
	root := &tonmodel.TraceNode{NodeID: ton.Bits256{0x01}, Account: ton.AccountID{}, Lt: 1}
	child := &tonmodel.TraceNode{NodeID: ton.Bits256{0x02}, Account: ton.AccountID{}, Lt: 2, Emulated: true}
	root.Children = []*tonmodel.TraceNode{child}
	return &tonmodel.Trace{ID: ton.Bits256{0x01}, Root: root}
}

func TestPublishFlattensEveryNode(t *testing.T) {
	cache := &fakeCache{}
	s := New(cache)
	trace := buildTrace()

	if err := s.Publish(context.Background(), trace, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(cache.putFields) != 2 {
		t.Fatalf("expected 2 node fields, got %d", len(cache.putFields))
	}
	rootKey := "node:" + trace.Root.NodeID.Hex()
	if _, ok := cache.putFields[rootKey]; !ok {
		t.Errorf("expected root field %q present", rootKey)
	}
}

func TestPublishDeletesSupersededKeys(t *testing.T) {
	cache := &fakeCache{}
	s := New(cache)
	trace := buildTrace()

	if err := s.Publish(context.Background(), trace, []string{"node:stale"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(cache.deleted) != 1 || cache.deleted[0] != "node:stale" {
		t.Errorf("expected stale key deleted, got %v", cache.deleted)
	}
}

func TestNodeKeysWalksWholeTree(t *testing.T) {
	trace := buildTrace()
	keys := NodeKeys(trace.Root)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}
