// Package store is the analytical-store boundary: everything the
// insert manager and the interface sink persist to lands here.
//
// The production backend is Postgres via jackc/pgx/v5 — substituting
// for a column-store analytical database (no native Go driver for one
// exists anywhere in this project's dependency surface), wired
// identically to how the copied-from repo wires its own SQL store:
// one *pgxpool.Pool behind a single PgStore with one method per
// logical table, bulk writes via pgx's CopyFrom rather than per-row
// INSERT.
package store

import (
	"context"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
)

// Store is the full persistence surface: block/tx/message insertion in
// bulk, the four interface upserts, and the startup seqno catch-up
// query.
type Store interface {
	InsertBlocks(ctx context.Context, parsed []tonmodel.ParsedBlock) error
	SelectExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error)

	UpsertJettonMaster(ctx context.Context, account ton.AccountID, data tonmodel.JettonMasterData, lt uint64) error
	UpsertJettonWallet(ctx context.Context, account ton.AccountID, data tonmodel.JettonWalletData, lt uint64) error
	UpsertNftCollection(ctx context.Context, account ton.AccountID, data tonmodel.NftCollectionData, lt uint64) error
	UpsertNftItem(ctx context.Context, account ton.AccountID, data tonmodel.NftItemData, lt uint64) error
}

// SinkAdapter exposes a Store as a detect.Sink: the detector interface
// is fire-and-forget (no error return), so failures are logged rather
// than propagated.
type SinkAdapter struct {
	Store Store
	OnErr func(err error)
}

func (a SinkAdapter) UpsertJettonMaster(ctx context.Context, account ton.AccountID, data tonmodel.JettonMasterData, lt uint64) {
	if err := a.Store.UpsertJettonMaster(ctx, account, data, lt); err != nil && a.OnErr != nil {
		a.OnErr(err)
	}
}

func (a SinkAdapter) UpsertJettonWallet(ctx context.Context, account ton.AccountID, data tonmodel.JettonWalletData, lt uint64) {
	if err := a.Store.UpsertJettonWallet(ctx, account, data, lt); err != nil && a.OnErr != nil {
		a.OnErr(err)
	}
}

func (a SinkAdapter) UpsertNftCollection(ctx context.Context, account ton.AccountID, data tonmodel.NftCollectionData, lt uint64) {
	if err := a.Store.UpsertNftCollection(ctx, account, data, lt); err != nil && a.OnErr != nil {
		a.OnErr(err)
	}
}

func (a SinkAdapter) UpsertNftItem(ctx context.Context, account ton.AccountID, data tonmodel.NftItemData, lt uint64) {
	if err := a.Store.UpsertNftItem(ctx, account, data, lt); err != nil && a.OnErr != nil {
		a.OnErr(err)
	}
}
