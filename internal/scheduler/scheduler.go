// Package scheduler implements the bounded-concurrency pipeline
// coordinator: it orders block fetch -> parse -> enrich -> persist
// while enforcing backpressure across four admission-control
// counters, grounded in poll-loop style on services/txindex's
// LiveSyncer (start/stop via an atomic running flag and a stop
// channel, periodic tick-driven work, structured per-tick logging).
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greymass/traceindex/internal/blocksource"
	"github.com/greymass/traceindex/internal/emulate"
	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/insert"
	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// State is a seqno's position in the fixed per-seqno state machine.
type State int

const (
	Queued State = iota
	Fetching
	Parsing
	QueuedForInsert
	Inserting
	Done
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Fetching:
		return "fetching"
	case Parsing:
		return "parsing"
	case QueuedForInsert:
		return "queued_for_insert"
	case Inserting:
		return "inserting"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Fetcher turns one masterchain seqno into the block+shard state the
// parser and emulator need. Kept narrow and collaborator-shaped so the
// scheduler never imports blockparser/emulate's concrete types beyond
// what it hands off.
type Fetcher interface {
	Fetch(ctx context.Context, seqno uint32) (tonmodel.MasterchainBlockDataState, error)
}

// Parser turns fetched block state into parsed transactions.
type Parser interface {
	Parse(ctx context.Context, state tonmodel.MasterchainBlockDataState) (tonmodel.ParsedBlock, emulate.AssignedSeqno, error)
}

// Caps is the four-metric admission-control cap set.
type Caps struct {
	MaxActiveTasks int
	Queue          tonmodel.QueueState
}

// Scheduler drives every masterchain seqno through Queued -> Fetching
// -> Parsing -> QueuedForInsert -> Inserting -> Done. processing_seqnos
// is the authoritative in-flight set; existing_seqnos is loaded once at
// startup from the insert manager's store and extended by runSeqno as
// each seqno reaches Done.
type Scheduler struct {
	source  blocksource.Source
	fetcher Fetcher
	parser  Parser
	inserts *insert.Manager
	caps    Caps

	mu              sync.Mutex
	existingSeqnos  map[uint32]struct{}
	queuedSeqnos    []uint32
	processingState map[uint32]State
	nextToDiscover  uint32

	// contiguousFloor is the largest seqno known to anchor a gap-free
	// Done prefix: every seqno in (the scheduler's start point,
	// contiguousFloor] has reached Done. Advanced only when the next
	// seqno in line finishes, so a seqno that races ahead of a still-
	// in-flight gap never gets reported as indexed.
	contiguousFloor uint32

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tickWindowStart time.Time
	tickWindowCount int64
}

func New(source blocksource.Source, fetcher Fetcher, parser Parser, inserts *insert.Manager, caps Caps) *Scheduler {
	return &Scheduler{
		source:          source,
		fetcher:         fetcher,
		parser:          parser,
		inserts:         inserts,
		caps:            caps,
		processingState: make(map[uint32]State),
	}
}

// Start loads existing_seqnos, discovers the chain tip, enqueues the
// catch-up range, and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	existing, err := s.inserts.GetExistingSeqnos(ctx)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.existingSeqnos = existing

	lastKnown := uint32(0)
	for seqno := range existing {
		if seqno > lastKnown {
			lastKnown = seqno
		}
	}

	tip, err := s.source.GetLastKnownSeqno(ctx)
	if err != nil {
		s.running.Store(false)
		return err
	}

	start := lastKnown + 1
	s.mu.Lock()
	for seqno := start; seqno <= tip; seqno++ {
		if _, ok := s.existingSeqnos[seqno]; ok {
			continue
		}
		s.queuedSeqnos = append(s.queuedSeqnos, seqno)
	}
	s.nextToDiscover = tip + 1
	s.contiguousFloor = lastKnown
	s.mu.Unlock()

	logger.Printf("scheduler", "starting from seqno %d, tip %d", start, tip)
	go s.tickLoop(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.running.Store(false)
	defer close(s.doneCh)

	s.tickWindowStart = time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.drain()
			return
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// drain stops admitting new seqnos and waits for processing_seqnos to
// empty, the cooperative-shutdown contract.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		n := len(s.processingState)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// tick refreshes the tip, enqueues newly observed seqnos, emits a
// progress log, and runs the admission pass.
func (s *Scheduler) tick(ctx context.Context) {
	tip, err := s.source.GetLastKnownSeqno(ctx)
	if err != nil {
		logger.Printf("scheduler", "tip refresh error: %v", err)
	} else {
		s.mu.Lock()
		for seqno := s.nextToDiscover; seqno <= tip; seqno++ {
			if !s.isKnownLocked(seqno) {
				s.queuedSeqnos = append(s.queuedSeqnos, seqno)
			}
		}
		if tip+1 > s.nextToDiscover {
			s.nextToDiscover = tip + 1
		}
		s.mu.Unlock()
	}

	s.emitProgress()
	s.scheduleNext(ctx)
	s.inserts.Tick(ctx)
}

// isKnownLocked reports whether seqno is already queued, in flight, or
// persisted — must be called with s.mu held.
func (s *Scheduler) isKnownLocked(seqno uint32) bool {
	if _, ok := s.existingSeqnos[seqno]; ok {
		return true
	}
	if _, ok := s.processingState[seqno]; ok {
		return true
	}
	for _, q := range s.queuedSeqnos {
		if q == seqno {
			return true
		}
	}
	return false
}

func (s *Scheduler) emitProgress() {
	s.mu.Lock()
	count := s.tickWindowCount
	elapsed := time.Since(s.tickWindowStart).Seconds()
	s.tickWindowCount = 0
	s.tickWindowStart = time.Now()
	inFlight := len(s.processingState)
	queued := len(s.queuedSeqnos)
	s.mu.Unlock()

	tps := float64(0)
	if elapsed > 0 {
		tps = float64(count) / elapsed
	}
	logger.Printf("scheduler", "queued=%d in_flight=%d tps=%.2f", queued, inFlight, tps)
}

// scheduleNext admits as many queued seqnos as max_active_tasks and
// every component cap allow, popping from the queue head.
func (s *Scheduler) scheduleNext(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.processingState) >= s.caps.MaxActiveTasks || len(s.queuedSeqnos) == 0 {
			s.mu.Unlock()
			return
		}
		if s.inserts.QueueState().Exceeds(s.caps.Queue) {
			s.mu.Unlock()
			return
		}
		seqno := s.queuedSeqnos[0]
		s.queuedSeqnos = s.queuedSeqnos[1:]
		s.processingState[seqno] = Fetching
		s.mu.Unlock()

		go s.runSeqno(ctx, seqno)
	}
}

// runSeqno drives one seqno through Fetching -> Parsing ->
// QueuedForInsert -> Inserting -> Done, rescheduling on transient
// failure and dropping on permanent failure.
func (s *Scheduler) runSeqno(ctx context.Context, seqno uint32) {
	state, err := s.fetcher.Fetch(ctx, seqno)
	if err != nil {
		s.finishOrReschedule(seqno, err)
		return
	}

	s.setState(seqno, Parsing)
	parsed, _, err := s.parser.Parse(ctx, state)
	if err != nil {
		s.finishOrReschedule(seqno, err)
		return
	}

	s.setState(seqno, QueuedForInsert)
	task := insert.NewTask(seqno, parsed)
	s.inserts.Insert(task)

	<-task.Queued
	s.setState(seqno, Inserting)

	err = <-task.Inserted
	if err != nil {
		s.finishOrReschedule(seqno, err)
		return
	}

	s.mu.Lock()
	delete(s.processingState, seqno)
	s.existingSeqnos[seqno] = struct{}{}
	s.tickWindowCount += int64(len(parsed.Transactions))
	s.advanceContiguousFloorLocked()
	s.mu.Unlock()
}

// advanceContiguousFloorLocked extends contiguousFloor past every
// seqno that is now Done and immediately follows it, stopping at the
// first gap — must be called with s.mu held.
func (s *Scheduler) advanceContiguousFloorLocked() {
	for {
		next := s.contiguousFloor + 1
		if _, done := s.existingSeqnos[next]; !done {
			return
		}
		if _, inFlight := s.processingState[next]; inFlight {
			return
		}
		s.contiguousFloor = next
	}
}

// LastIndexedSeqno returns the largest seqno such that every seqno up
// to and including it has reached Done with no gap — the longest
// contiguous prefix, not merely the most recently completed seqno.
// Seqnos can finish out of order under concurrent processing, so
// reporting the latest completion directly would claim a seqno that
// raced ahead of a still-in-flight predecessor as already durable.
func (s *Scheduler) LastIndexedSeqno() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contiguousFloor
}

func (s *Scheduler) setState(seqno uint32, st State) {
	s.mu.Lock()
	s.processingState[seqno] = st
	s.mu.Unlock()
}

// finishOrReschedule implements reschedule(seqno): a transient error
// reinserts the seqno at the queue head; a permanent error is logged
// and dropped.
func (s *Scheduler) finishOrReschedule(seqno uint32, err error) {
	s.mu.Lock()
	delete(s.processingState, seqno)

	if errs.Permanent(err) {
		s.mu.Unlock()
		logger.Printf("scheduler", "dropping seqno %d: permanent error: %v", seqno, err)
		return
	}

	s.queuedSeqnos = append([]uint32{seqno}, s.queuedSeqnos...)
	s.mu.Unlock()
	logger.Printf("scheduler", "rescheduling seqno %d: %v", seqno, err)
}

// Snapshot returns a copy of every in-flight seqno's state, for
// diagnostics and tests.
func (s *Scheduler) Snapshot() map[uint32]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]State, len(s.processingState))
	for k, v := range s.processingState {
		out[k] = v
	}
	return out
}

// QueuedSeqnos returns a sorted copy of the queue, for tests.
func (s *Scheduler) QueuedSeqnos() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]uint32(nil), s.queuedSeqnos...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
