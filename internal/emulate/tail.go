package emulate

import (
	"context"
	"sync"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"golang.org/x/sync/errgroup"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/vm"
)

const MaxTraceDepth = 20

// AccountStateProvider resolves the latest shard state for an account
// not already mutated within this trace; the trace emulator consults
// the trace's own EmulatedAccounts cache first and only falls back to
// this collaborator.
type AccountStateProvider interface {
	GetAccountState(ctx context.Context, account ton.AccountID) (tlb.ShardAccount, error)
}

// TraceTailEmulator builds one trace tree from its root transaction,
// recursing on out-msgs and invoking the VM for hops not observed
// within the seqno. Sibling out-msgs are emulated concurrently; the
// join is a multi-promise that only succeeds once every child
// subpromise has resolved, implemented here with errgroup.Group.
type TraceTailEmulator struct {
	emulator vm.Emulator
	states   AccountStateProvider
	config   tlb.ConfigParams
	maxDepth int
}

func NewTraceTailEmulator(emulator vm.Emulator, states AccountStateProvider, config tlb.ConfigParams) *TraceTailEmulator {
	return &TraceTailEmulator{emulator: emulator, states: states, config: config, maxDepth: MaxTraceDepth}
}

// buildState is the mutable state shared across one trace's parallel
// subtree emulations: a single mutex guards emulated_accounts for the
// trace's lifetime, per the concurrency contract of sibling emulation.
type buildState struct {
	mu               sync.Mutex
	emulatedAccounts map[ton.AccountID][]tlb.ShardAccount
	// accountLocks serializes VM calls per destination account so
	// state mutations within one trace compose deterministically.
	accountLocks map[ton.AccountID]*sync.Mutex
	locksMu      sync.Mutex
}

func newBuildState() *buildState {
	return &buildState{
		emulatedAccounts: make(map[ton.AccountID][]tlb.ShardAccount),
		accountLocks:     make(map[ton.AccountID]*sync.Mutex),
	}
}

func (b *buildState) lockFor(account ton.AccountID) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	if l, ok := b.accountLocks[account]; ok {
		return l
	}
	l := &sync.Mutex{}
	b.accountLocks[account] = l
	return l
}

func (b *buildState) latestState(account ton.AccountID) (tlb.ShardAccount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	states := b.emulatedAccounts[account]
	if len(states) == 0 {
		return tlb.ShardAccount{}, false
	}
	return states[len(states)-1], true
}

func (b *buildState) record(account ton.AccountID, state tlb.ShardAccount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emulatedAccounts[account] = append(b.emulatedAccounts[account], state)
}

// Build recurses from root, resolving each non-external out-msg either
// against byInMsgHash (an on-chain hit, emulated=false) or through the
// VM (emulated=true). byInMsgHash belongs to one masterchain seqno;
// cross-seqno continuation is handled by the caller re-invoking Build
// with the next seqno's own byInMsgHash once the interblock id
// resolves a new root.
func (e *TraceTailEmulator) Build(ctx context.Context, root tonmodel.TransactionInfo, byInMsgHash map[ton.Bits256]tonmodel.TransactionInfo) (*tonmodel.Trace, error) {
	state := newBuildState()

	rootNode, err := e.buildNode(ctx, root, byInMsgHash, state, 0)
	if err != nil {
		return nil, err
	}

	return &tonmodel.Trace{
		ID:               root.InitialMsgHash,
		Root:             rootNode,
		EmulatedAccounts: state.emulatedAccounts,
		Interfaces:       make(tonmodel.InterfaceSet),
	}, nil
}

func (e *TraceTailEmulator) buildNode(ctx context.Context, tx tonmodel.TransactionInfo, byInMsgHash map[ton.Bits256]tonmodel.TransactionInfo, state *buildState, depth int) (*tonmodel.TraceNode, error) {
	node := &tonmodel.TraceNode{
		NodeID:          tx.InMsgHash,
		TransactionRoot: tx.Root,
		Account:         tx.Account,
		Lt:              tx.Lt,
		Emulated:        false,
	}

	if depth >= e.maxDepth {
		return node, nil
	}

	children := make([]*tonmodel.TraceNode, len(tx.OutMsgs))
	g, gctx := errgroup.WithContext(ctx)

	for i, out := range tx.OutMsgs {
		i, out := i, out
		if out.External {
			continue
		}

		g.Go(func() error {
			child, err := e.resolveChild(gctx, out, byInMsgHash, state, depth+1)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range children {
		if c != nil {
			node.Children = append(node.Children, c)
		}
	}
	return node, nil
}

func (e *TraceTailEmulator) resolveChild(ctx context.Context, out tonmodel.OutMsgInfo, byInMsgHash map[ton.Bits256]tonmodel.TransactionInfo, state *buildState, depth int) (*tonmodel.TraceNode, error) {
	if childTx, ok := byInMsgHash[out.Hash]; ok {
		return e.buildNode(ctx, childTx, byInMsgHash, state, depth)
	}
	return e.emulateChild(ctx, out, state, depth)
}

// emulateChild invokes the per-destination VM driver: it loads the
// account from emulated_accounts if a prior hop in this trace already
// mutated it, otherwise from the live shard state, then serializes the
// call behind that account's lock so mutations compose deterministically.
func (e *TraceTailEmulator) emulateChild(ctx context.Context, out tonmodel.OutMsgInfo, state *buildState, depth int) (*tonmodel.TraceNode, error) {
	if out.Dest == nil {
		return nil, errs.New(errs.MalformedBlock, "internal out-msg missing destination")
	}
	account := *out.Dest

	lock := state.lockFor(account)
	lock.Lock()
	defer lock.Unlock()

	shardAccount, ok := state.latestState(account)
	if !ok {
		var err error
		shardAccount, err = e.states.GetAccountState(ctx, account)
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "load account state", err)
		}
	}

	result, err := e.emulator.EmulateTransaction(ctx, account, shardAccount, e.config, out.Root)
	if err != nil {
		logger.Printf("emulate", "vm fault account=%x depth=%d: %v", account.Address, depth, err)
		return nil, err
	}

	state.record(account, result.NewAccount)

	node := &tonmodel.TraceNode{
		NodeID:          out.Hash,
		TransactionRoot: result.TxRoot,
		Account:         account,
		Emulated:        true,
	}

	if depth >= e.maxDepth {
		return node, nil
	}

	var outMsgs []tonmodel.OutMsgInfo
	for _, msgRoot := range result.OutMsgs {
		outMsgs = append(outMsgs, decodeEmulatedOutMsg(msgRoot))
	}

	children := make([]*tonmodel.TraceNode, len(outMsgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, synthOut := range outMsgs {
		i, synthOut := i, synthOut
		if synthOut.External {
			continue
		}
		g.Go(func() error {
			child, err := e.emulateChild(gctx, synthOut, state, depth+1)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, c := range children {
		if c != nil {
			node.Children = append(node.Children, c)
		}
	}

	return node, nil
}

// decodeEmulatedOutMsg extracts the destination address (if any) from
// a freshly emulated out-msg cell, the same decode step the block
// parser runs for on-chain messages.
func decodeEmulatedOutMsg(root *boc.Cell) tonmodel.OutMsgInfo {
	out := tonmodel.OutMsgInfo{Root: root}

	var msg tlb.Message
	if err := tlb.Unmarshal(root, &msg); err != nil {
		out.External = true
		return out
	}
	if h, err := root.Hash(); err == nil {
		out.Hash = ton.Bits256(h)
	}

	if msg.Info.SumType == "ExtOutMsgInfo" {
		out.External = true
		return out
	}
	if msg.Info.SumType == "IntMsgInfo" {
		if dest, err := ton.AccountIDFromTlb(msg.Info.IntMsgInfo.Dest); err == nil && dest != nil {
			out.Dest = dest
			return out
		}
	}
	out.External = true
	return out
}
