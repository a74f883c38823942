package blocksource

import (
	"context"
	"sync"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// Fake is an in-memory Source and AccountReader. cmd/traceindexd wires
// it in as the block source, in place of a lite-client adapter.
type Fake struct {
	mu       sync.Mutex
	tip      uint32
	blocks   map[uint32]*tonmodel.MasterchainBlockDataState
	accounts map[ton.AccountID]fakeAccount
}

type fakeAccount struct {
	state             tlb.ShardAccount
	code, data        *boc.Cell
	lastTransactionLt uint64
}

func NewFake() *Fake {
	return &Fake{
		blocks:   make(map[uint32]*tonmodel.MasterchainBlockDataState),
		accounts: make(map[ton.AccountID]fakeAccount),
	}
}

// PutAccount registers an account's current state and code/data cells,
// consulted by GetAccountState and FetchCodeData.
func (f *Fake) PutAccount(account ton.AccountID, state tlb.ShardAccount, code, data *boc.Cell, lastTransactionLt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account] = fakeAccount{state: state, code: code, data: data, lastTransactionLt: lastTransactionLt}
}

func (f *Fake) GetAccountState(ctx context.Context, account ton.AccountID) (tlb.ShardAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[account]
	if !ok {
		return tlb.ShardAccount{}, errs.New(errs.NotFound, "account not available")
	}
	return acc.state, nil
}

func (f *Fake) FetchCodeData(ctx context.Context, account ton.AccountID) (code, data *boc.Cell, lastTransactionLt uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[account]
	if !ok {
		return nil, nil, 0, errs.New(errs.NotFound, "account not available")
	}
	return acc.code, acc.data, acc.lastTransactionLt, nil
}

func (f *Fake) GetLibraries(ctx context.Context, hashes []ton.Bits256) (map[ton.Bits256]*boc.Cell, error) {
	return map[ton.Bits256]*boc.Cell{}, nil
}

// WalkAccounts satisfies detect.AccountWalker, iterating every account
// registered via PutAccount.
func (f *Fake) WalkAccounts(ctx context.Context, fn func(account ton.AccountID) error) error {
	f.mu.Lock()
	accounts := make([]ton.AccountID, 0, len(f.accounts))
	for a := range f.accounts {
		accounts = append(accounts, a)
	}
	f.mu.Unlock()

	for _, a := range accounts {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Put(block *tonmodel.MasterchainBlockDataState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[block.Seqno] = block
	if block.Seqno > f.tip {
		f.tip = block.Seqno
	}
}

func (f *Fake) GetLastKnownSeqno(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *Fake) FetchMasterchain(ctx context.Context, seqno uint32) (*tonmodel.MasterchainBlockDataState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.blocks[seqno]
	if !ok {
		return nil, errs.New(errs.NotFound, "seqno not available")
	}
	return block, nil
}

var (
	_ Source        = (*Fake)(nil)
	_ AccountReader = (*Fake)(nil)
)
