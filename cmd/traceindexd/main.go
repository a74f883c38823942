package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/blockparser"
	"github.com/greymass/traceindex/internal/blocksource"
	"github.com/greymass/traceindex/internal/config"
	"github.com/greymass/traceindex/internal/detect"
	"github.com/greymass/traceindex/internal/emulate"
	"github.com/greymass/traceindex/internal/enforce"
	"github.com/greymass/traceindex/internal/insert"
	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/profiler"
	"github.com/greymass/traceindex/internal/scheduler"
	"github.com/greymass/traceindex/internal/store"
	"github.com/greymass/traceindex/internal/streamcache"
	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/tracesink"
	"github.com/greymass/traceindex/internal/vm"
)

var Version = "dev"

func main() {
	config.CheckVersion(Version)

	cfg := &config.Config{}
	if err := config.Load(cfg, os.Args[1:]); err != nil {
		logger.Fatal("Config error: %v", err)
	}

	logger.RegisterCategories("startup", "scheduler", "emulate", "detect", "insert", "store", "profiler")
	if cfg.LogCategories != "" {
		logger.SetCategoryFilter(strings.Split(cfg.LogCategories, ","))
	}
	if level, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetMinLevel(level)
	}

	logger.Printf("startup", "traceindexd %s starting...", Version)
	logger.Printf("startup", "threads=%d from-seqno=%d", cfg.Threads, cfg.FromSeqno)

	if cfg.ProfileInterval != "0s" && cfg.ProfileInterval != "" {
		if interval, err := time.ParseDuration(cfg.ProfileInterval); err == nil && interval > 0 {
			profiler.Start(profiler.Config{ServiceName: "traceindexd", Interval: interval})
			defer profiler.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPgStore(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to connect to store: %v", err)
	}
	defer pgStore.Close()

	cache, err := streamcache.New(cfg.RedisAddr, "traceindex:")
	if err != nil {
		logger.Fatal("Failed to connect to stream cache: %v", err)
	}
	defer cache.Close()

	traceSink := tracesink.New(cache)

	// source satisfies both blocksource.Source (per-seqno block fetch,
	// driven by the scheduler) and blocksource.AccountReader (on-demand
	// account state/code/libraries, driven by trace-tail emulation and
	// interface detection). A lite-client-backed adapter implementing
	// both interfaces plugs in here unmodified; nothing downstream
	// depends on this concrete type.
	source := blocksource.NewFake()
	logger.Printf("startup", "block source: in-memory fake (wire a lite-client adapter satisfying blocksource.Source/AccountReader for production use)")

	emulator := vm.NewTongoEmulator(source, 0)
	interfaceMgr := detect.NewInterfaceManager()
	sink := store.SinkAdapter{Store: pgStore, OnErr: func(err error) {
		logger.Printf("store", "interface upsert failed: %v", err)
	}}

	pipeline := detect.NewPipeline(sink,
		detect.NewJettonMasterDetector(emulator, interfaceMgr, sink),
		detect.NewJettonWalletDetector(emulator, interfaceMgr, source, sink),
		detect.NewNftCollectionDetector(emulator, interfaceMgr, sink),
		detect.NewNftItemDetector(emulator, interfaceMgr, source, sink),
	)

	interblock := emulate.NewInterblockTraceIDs()

	enforce.ENFORCE(cfg.MaxActiveTasks > 0, "max-active-tasks must be positive")
	enforce.ENFORCE(cfg.BatchBlocksCount > 0, "batch-blocks-count must be positive")

	insertCaps := insert.Caps{
		BatchBlocksCount:   cfg.BatchBlocksCount,
		MaxParallelInserts: cfg.MaxParallelInserts,
		MaxInsertMcBlocks:  int64(cfg.MaxInsertMcBlocks),
		MaxInsertBlocks:    int64(cfg.MaxInsertBlocks),
		MaxInsertTxs:       int64(cfg.MaxInsertTxs),
		MaxInsertMsgs:      int64(cfg.MaxInsertMsgs),
	}
	insertMgr := insert.NewManager(pgStore, insertCaps)

	stages := &pipelineStages{
		source:        source,
		emulator:      emulator,
		interblock:    interblock,
		detect:        pipeline,
		sink:          traceSink,
		priorNodeKeys: make(map[ton.Bits256][]string),
	}

	schedCaps := scheduler.Caps{
		MaxActiveTasks: cfg.MaxActiveTasks,
		Queue: tonmodel.QueueState{
			McBlocks: int64(cfg.MaxQueueMcBlocks),
			Blocks:   int64(cfg.MaxQueueBlocks),
			Txs:      int64(cfg.MaxQueueTxs),
			Msgs:     int64(cfg.MaxQueueMsgs),
		},
	}
	sched := scheduler.New(source, stages, stages, insertMgr, schedCaps)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler: %v", err)
	}

	if rescanInterval, err := time.ParseDuration(cfg.RescanInterval); err == nil && rescanInterval > 0 {
		rescanner := detect.NewRescanner(source, pipeline, source, rescanInterval)
		go rescanner.Run(ctx)
		logger.Printf("startup", "interface rescan enabled every %s", rescanInterval)
	} else {
		logger.Printf("startup", "interface rescan disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Printf("startup", "Service running. Press Ctrl+C to stop.")
	<-sigChan

	logger.Printf("startup", "Shutting down...")
	sched.Stop()
	insertMgr.Wait()
	logger.Printf("startup", "Shutdown complete")
}

// pipelineStages adapts blockparser + emulate + detect into the
// scheduler's Fetcher/Parser seam: Fetch is a thin pass-through to the
// block source, Parse runs the shard-block parser, assigns trace
// membership, builds each trace's tail, runs interface detection
// across the trace's accounts, and publishes each finished trace
// before returning the flat ParsedBlock the insert manager persists.
type pipelineStages struct {
	source     *blocksource.Fake
	emulator   vm.Emulator
	interblock *emulate.InterblockTraceIDs
	detect     *detect.Pipeline
	sink       *tracesink.Sink

	// priorNodeKeys remembers, per trace id, the node keys published
	// the last time this trace was emulated. A trace that continues
	// into a later masterchain seqno (or whose emulated tail gets
	// superseded by a since-confirmed different tail) republishes with
	// a superseded list computed against this, so tracesink.Sink can
	// delete the stale fields before it writes the fresh ones.
	nodeKeysMu    sync.Mutex
	priorNodeKeys map[ton.Bits256][]string
}

func (p *pipelineStages) Fetch(ctx context.Context, seqno uint32) (tonmodel.MasterchainBlockDataState, error) {
	state, err := p.source.FetchMasterchain(ctx, seqno)
	if err != nil {
		return tonmodel.MasterchainBlockDataState{}, err
	}
	return *state, nil
}

func (p *pipelineStages) Parse(ctx context.Context, state tonmodel.MasterchainBlockDataState) (tonmodel.ParsedBlock, emulate.AssignedSeqno, error) {
	tail := emulate.NewTraceTailEmulator(p.emulator, p.source, state.Config)
	mcEmulator := emulate.NewMcBlockEmulator(p.interblock, tail)

	shardRoots := append([]*boc.Cell{state.MasterchainRoot}, state.ShardRoots...)

	var allTxs []tonmodel.TransactionInfo
	for _, root := range shardRoots {
		if root == nil {
			continue
		}
		txs, skipped, err := blockparser.ParseShardBlock(root)
		if err != nil {
			return tonmodel.ParsedBlock{}, emulate.AssignedSeqno{}, err
		}
		if skipped > 0 {
			logger.Printf("scheduler", "seqno %d: skipped %d non-ordinary transactions", state.Seqno, skipped)
		}
		allTxs = append(allTxs, txs...)
	}

	assigned := mcEmulator.Assign(allTxs)
	if assigned.Orphans > 0 {
		logger.Printf("emulate", "seqno %d: %d orphan transactions", state.Seqno, assigned.Orphans)
	}

	for _, root := range assigned.Roots {
		trace, err := tail.Build(ctx, root, assigned.ByInMsgHash)
		if err != nil {
			logger.Printf("emulate", "trace build failed for root %x: %v", root.InMsgHash, err)
			continue
		}
		p.detectInterfaces(ctx, trace)
		superseded := p.supersededNodeKeys(trace)
		if err := p.sink.Publish(ctx, trace, superseded); err != nil {
			logger.Printf("emulate", "trace publish failed for %x: %v", trace.ID, err)
		}
	}

	return tonmodel.ParsedBlock{Seqno: state.Seqno, Transactions: allTxs}, assigned, nil
}

// supersededNodeKeys diffs the fresh tree's node keys against the
// previous emulation of the same trace id, returning the keys that no
// longer exist in the fresh tree — an emulated subtree that a later
// masterchain seqno has since confirmed with different children. It
// then records the fresh key set for the next publish of this trace.
func (p *pipelineStages) supersededNodeKeys(trace *tonmodel.Trace) []string {
	fresh := tracesink.NodeKeys(trace.Root)

	p.nodeKeysMu.Lock()
	defer p.nodeKeysMu.Unlock()

	prior := p.priorNodeKeys[trace.ID]
	freshSet := make(map[string]struct{}, len(fresh))
	for _, k := range fresh {
		freshSet[k] = struct{}{}
	}
	var superseded []string
	for _, k := range prior {
		if _, ok := freshSet[k]; !ok {
			superseded = append(superseded, k)
		}
	}

	p.priorNodeKeys[trace.ID] = fresh
	return superseded
}

// detectInterfaces runs the detector pipeline once per distinct
// account reachable from the trace's root (on-chain or emulated),
// recording every positive classification into trace.Interfaces.
func (p *pipelineStages) detectInterfaces(ctx context.Context, trace *tonmodel.Trace) {
	if trace.Root == nil {
		return
	}
	trace.Interfaces = make(tonmodel.InterfaceSet)
	seen := make(map[ton.AccountID]bool)

	var walk func(node *tonmodel.TraceNode)
	walk = func(node *tonmodel.TraceNode) {
		if !seen[node.Account] {
			seen[node.Account] = true
			p.detectOne(ctx, trace, node)
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(trace.Root)
}

func (p *pipelineStages) detectOne(ctx context.Context, trace *tonmodel.Trace, node *tonmodel.TraceNode) {
	code, data, lastLt, err := p.source.FetchCodeData(ctx, node.Account)
	if err != nil {
		return
	}
	codeHash, err := code.Hash()
	if err != nil {
		return
	}
	dataHash, err := data.Hash()
	if err != nil {
		return
	}

	req := detect.Request{
		Account:           node.Account,
		Code:              code,
		Data:              data,
		CodeHash:          ton.Bits256(codeHash),
		DataHash:          ton.Bits256(dataHash),
		LastTransactionLt: lastLt,
		Now:               uint32(time.Now().Unix()),
	}
	records := p.detect.DetectAll(ctx, req)
	if len(records) > 0 {
		trace.Interfaces[node.Account] = records
	}
}

