// Package blocksource defines the block-storage collaborator the
// scheduler fetches from. The concrete reader (a lite-client, an
// archive node, a local block store) is out of scope for this
// pipeline; only the fetch contract is specified here.
package blocksource

import (
	"context"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
)

type Source interface {
	GetLastKnownSeqno(ctx context.Context) (uint32, error)
	FetchMasterchain(ctx context.Context, seqno uint32) (*tonmodel.MasterchainBlockDataState, error)
}

// AccountReader is the on-demand per-account counterpart to Source's
// per-seqno fetch: the latest account state for trace-tail emulation,
// code/data cells for interface detection and cross-verification, and
// public library cells referenced by a contract's code. A single
// concrete adapter (a lite-client, an archive node) typically backs
// both Source and AccountReader.
type AccountReader interface {
	GetAccountState(ctx context.Context, account ton.AccountID) (tlb.ShardAccount, error)
	FetchCodeData(ctx context.Context, account ton.AccountID) (code, data *boc.Cell, lastTransactionLt uint64, err error)
	GetLibraries(ctx context.Context, hashes []ton.Bits256) (map[ton.Bits256]*boc.Cell, error)
}
