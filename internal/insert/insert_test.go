package insert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/greymass/traceindex/internal/tonmodel"
)

// fakeStore records every batch it's asked to insert and lets tests
// toggle a failure for the next call.
type fakeStore struct {
	mu       sync.Mutex
	batches  [][]tonmodel.ParsedBlock
	failNext bool
	existing map[uint32]struct{}
}

func (s *fakeStore) InsertBlocks(ctx context.Context, parsed []tonmodel.ParsedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("store unavailable")
	}
	cp := make([]tonmodel.ParsedBlock, len(parsed))
	copy(cp, parsed)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeStore) SelectExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error) {
	return s.existing, nil
}

func blockWithTxCount(seqno uint32, txs int) tonmodel.ParsedBlock {
	t := make([]tonmodel.TransactionInfo, txs)
	return tonmodel.ParsedBlock{Seqno: seqno, Transactions: t}
}

func generousCaps() Caps {
	return Caps{
		BatchBlocksCount:   100,
		MaxParallelInserts: 4,
		MaxInsertMcBlocks:  1000,
		MaxInsertBlocks:    1000,
		MaxInsertTxs:       100000,
		MaxInsertMsgs:      100000,
	}
}

func waitForInserted(t *testing.T, task *Task, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-task.Inserted:
		return err
	case <-time.After(timeout):
		t.Fatalf("task %d: Inserted never fired", task.McSeqno)
		return nil
	}
}

func TestInsertUpdatesQueueStateOnAdmission(t *testing.T) {
	m := NewManager(&fakeStore{}, generousCaps())

	task := NewTask(1, blockWithTxCount(1, 3))
	m.Insert(task)

	select {
	case state := <-task.Queued:
		if state.McBlocks != 1 || state.Blocks != 1 || state.Txs != 3 {
			t.Fatalf("unexpected queue state: %+v", state)
		}
	default:
		t.Fatal("Queued never fired")
	}

	if got := m.QueueState(); got.Txs != 3 {
		t.Fatalf("QueueState.Txs = %d, want 3", got.Txs)
	}
}

func TestTickAssemblesSingleBatchUnderCaps(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, generousCaps())

	tasks := []*Task{
		NewTask(1, blockWithTxCount(1, 2)),
		NewTask(2, blockWithTxCount(2, 2)),
		NewTask(3, blockWithTxCount(3, 2)),
	}
	for _, task := range tasks {
		m.Insert(task)
		<-task.Queued
	}

	m.Tick(context.Background())
	m.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %d batches: %+v", len(store.batches), store.batches)
	}

	for _, task := range tasks {
		if err := waitForInserted(t, task, time.Second); err != nil {
			t.Errorf("task %d: unexpected error %v", task.McSeqno, err)
		}
	}

	if got := m.QueueState(); got != (tonmodel.QueueState{}) {
		t.Fatalf("expected counters to return to zero after the batch settles, got %+v", got)
	}
}

func TestTickSplitsBatchesAtBlocksCountCap(t *testing.T) {
	store := &fakeStore{}
	caps := generousCaps()
	caps.BatchBlocksCount = 2
	m := NewManager(store, caps)

	for seqno := uint32(1); seqno <= 5; seqno++ {
		task := NewTask(seqno, blockWithTxCount(seqno, 1))
		m.Insert(task)
		<-task.Queued
	}

	// Drain with repeated ticks since MaxParallelInserts may only start
	// a subset per call.
	for i := 0; i < 10; i++ {
		m.Tick(context.Background())
		m.Wait()
		store.mu.Lock()
		done := false
		total := 0
		for _, b := range store.batches {
			total += len(b)
		}
		if total == 5 {
			done = true
		}
		store.mu.Unlock()
		if done {
			break
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, b := range store.batches {
		if len(b) > 2 {
			t.Fatalf("batch exceeded BatchBlocksCount: %+v", b)
		}
	}
	total := 0
	for _, b := range store.batches {
		total += len(b)
	}
	if total != 5 {
		t.Fatalf("expected all 5 tasks eventually inserted, got %d", total)
	}
}

func TestAssembleBatchEmitsOversizedHeadAsSingleton(t *testing.T) {
	store := &fakeStore{}
	caps := generousCaps()
	caps.MaxInsertTxs = 1
	m := NewManager(store, caps)

	big := NewTask(1, blockWithTxCount(1, 5))
	small := NewTask(2, blockWithTxCount(2, 1))
	m.Insert(big)
	<-big.Queued
	m.Insert(small)
	<-small.Queued

	m.mu.Lock()
	batch := m.assembleBatchLocked()
	m.mu.Unlock()

	if len(batch) != 1 || batch[0].McSeqno != 1 {
		t.Fatalf("expected the oversized head task alone, got %+v", batch)
	}

	m.mu.Lock()
	remaining := len(m.queue)
	m.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected 1 task left in queue, got %d", remaining)
	}
}

func TestRunBatchFailurePropagatesErrorToEveryTask(t *testing.T) {
	store := &fakeStore{failNext: true}
	m := NewManager(store, generousCaps())

	tasks := []*Task{
		NewTask(1, blockWithTxCount(1, 1)),
		NewTask(2, blockWithTxCount(2, 1)),
	}
	for _, task := range tasks {
		m.Insert(task)
		<-task.Queued
	}

	m.Tick(context.Background())
	m.Wait()

	for _, task := range tasks {
		err := waitForInserted(t, task, time.Second)
		if err == nil {
			t.Errorf("task %d: expected error, got nil", task.McSeqno)
		}
	}

	if got := m.QueueState(); got != (tonmodel.QueueState{}) {
		t.Fatalf("expected counters to unwind even on failure, got %+v", got)
	}
}
