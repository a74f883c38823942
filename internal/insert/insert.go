// Package insert implements the InsertManager: a batching, size-
// bounded, parallel-insert sink between the pipeline and the
// analytical store.
package insert

import (
	"context"
	"sync"

	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// Task is one masterchain seqno's parsed block on its way to the
// store. Queued fires once the task is admitted (counters updated);
// Inserted fires once the owning batch has persisted or failed.
// Ownership is exclusive to the insert manager between enqueue and
// either channel closing.
type Task struct {
	McSeqno  uint32
	Parsed   tonmodel.ParsedBlock
	Queued   chan tonmodel.QueueState
	Inserted chan error
}

func NewTask(seqno uint32, parsed tonmodel.ParsedBlock) *Task {
	return &Task{
		McSeqno:  seqno,
		Parsed:   parsed,
		Queued:   make(chan tonmodel.QueueState, 1),
		Inserted: make(chan error, 1),
	}
}

// Store is the narrow slice of the analytical store the insert
// manager needs: bulk block persistence and the startup catch-up
// query. Satisfied by store.Store.
type Store interface {
	InsertBlocks(ctx context.Context, parsed []tonmodel.ParsedBlock) error
	SelectExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error)
}

// Caps bounds batch assembly: BatchBlocksCount is a task-count cap,
// the four MaxInsert* fields are the content caps (mc_blocks is
// redundant with task count at one task per seqno, kept distinct to
// mirror the scheduler's four-metric queue state), and
// MaxParallelInserts bounds how many batches are in flight at once.
type Caps struct {
	BatchBlocksCount   int
	MaxParallelInserts int
	MaxInsertMcBlocks  int64
	MaxInsertBlocks    int64
	MaxInsertTxs       int64
	MaxInsertMsgs      int64
}

// Manager is the single-writer owner of the insert queue and its
// counters; Insert and Tick are the only mutators.
type Manager struct {
	mu      sync.Mutex
	queue   []*Task
	counts  tonmodel.QueueState
	store   Store
	caps    Caps
	active  int
	wg      sync.WaitGroup
}

func NewManager(store Store, caps Caps) *Manager {
	return &Manager{store: store, caps: caps}
}

// Insert enqueues task, updates counters under the manager's lock, and
// fulfills task.Queued with the post-admission QueueState.
func (m *Manager) Insert(task *Task) {
	contribution := task.Parsed.QueueContribution()

	m.mu.Lock()
	m.queue = append(m.queue, task)
	m.counts = m.counts.Add(contribution)
	state := m.counts
	m.mu.Unlock()

	task.Queued <- state
}

// QueueState returns a snapshot of the current counters, read by the
// scheduler for admission control.
func (m *Manager) QueueState() tonmodel.QueueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// GetExistingSeqnos returns the set of seqnos already persisted, used
// once at scheduler startup.
func (m *Manager) GetExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error) {
	return m.store.SelectExistingSeqnos(ctx)
}

// Tick spawns as many insert workers as max_parallel_insert_actors
// allows, each taking one greedily-but-boundedly assembled batch from
// the queue head.
func (m *Manager) Tick(ctx context.Context) {
	for {
		m.mu.Lock()
		if m.active >= m.caps.MaxParallelInserts || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		batch := m.assembleBatchLocked()
		if len(batch) == 0 {
			m.mu.Unlock()
			return
		}
		m.active++
		m.mu.Unlock()

		m.wg.Add(1)
		go m.runBatch(ctx, batch)
	}
}

// Wait blocks until every in-flight batch worker has finished, used by
// cooperative shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// assembleBatchLocked must be called with m.mu held. It accumulates
// tasks from the queue head until either the block-count cap or any
// content cap would be exceeded, stopping before the overflow. A
// single head task that alone exceeds any cap is still emitted, as a
// forward-progress guarantee.
func (m *Manager) assembleBatchLocked() []*Task {
	if len(m.queue) == 0 {
		return nil
	}

	var batch []*Task
	var sum tonmodel.QueueState

	for i, task := range m.queue {
		c := task.Parsed.QueueContribution()
		next := sum.Add(c)

		overflow := len(batch) >= m.caps.BatchBlocksCount ||
			next.McBlocks > m.caps.MaxInsertMcBlocks ||
			next.Blocks > m.caps.MaxInsertBlocks ||
			next.Txs > m.caps.MaxInsertTxs ||
			next.Msgs > m.caps.MaxInsertMsgs

		if overflow {
			if i == 0 {
				// The single head task alone exceeds a cap: emit it
				// as a singleton batch rather than stalling forever.
				batch = append(batch, task)
			}
			break
		}

		batch = append(batch, task)
		sum = next
	}

	if len(batch) > 0 && len(batch) <= len(m.queue) {
		m.queue = m.queue[len(batch):]
	}
	return batch
}

// runBatch performs the batch's store round-trip and resolves every
// task's Inserted channel. Failure is per-batch: on error every task
// in the batch is reported failed together, and the caller (the
// scheduler) retries the whole seqno range — the batch is not
// reinserted here since ownership of retry policy belongs upstream.
func (m *Manager) runBatch(ctx context.Context, batch []*Task) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.active--
		var consumed tonmodel.QueueState
		for _, t := range batch {
			consumed = consumed.Add(t.Parsed.QueueContribution())
		}
		m.counts = m.counts.Sub(consumed)
		m.mu.Unlock()
	}()

	parsed := make([]tonmodel.ParsedBlock, len(batch))
	for i, t := range batch {
		parsed[i] = t.Parsed
	}

	err := m.store.InsertBlocks(ctx, parsed)
	if err != nil {
		logger.Printf("insert", "batch of %d failed: %v", len(batch), err)
	}
	for _, t := range batch {
		t.Inserted <- err
	}
}
