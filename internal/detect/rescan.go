package detect

import (
	"context"
	"time"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/logger"
)

// AccountWalker enumerates every account of the latest shard state, the
// collaborator a full-state rescan needs that trace-driven detection
// never touches: accounts with no recent transaction are otherwise
// invisible to this pipeline.
type AccountWalker interface {
	WalkAccounts(ctx context.Context, fn func(account ton.AccountID) error) error
}

// Rescanner periodically re-runs interface detection across every
// account in the latest state, independent of trace emulation. It
// exists to eventually converge a Jetton Wallet cached provisionally
// because its master was not yet indexed at detection time: once the
// master is later classified, the next sweep re-verifies the wallet.
// Nothing in the core pipeline depends on Rescanner; it is an optional
// periodic sweep a deployment can enable.
type Rescanner struct {
	walker   AccountWalker
	pipeline *Pipeline
	accounts AccountFetcher
	interval time.Duration
}

func NewRescanner(walker AccountWalker, pipeline *Pipeline, accounts AccountFetcher, interval time.Duration) *Rescanner {
	return &Rescanner{walker: walker, pipeline: pipeline, accounts: accounts, interval: interval}
}

func (r *Rescanner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				logger.Printf("detect", "rescan sweep error: %v", err)
			}
		}
	}
}

func (r *Rescanner) sweep(ctx context.Context) error {
	start := time.Now()
	count := 0

	err := r.walker.WalkAccounts(ctx, func(account ton.AccountID) error {
		code, data, lastTxLt, err := r.accounts.FetchCodeData(ctx, account)
		if err != nil {
			return nil
		}
		codeHash, err := code.Hash()
		if err != nil {
			return nil
		}
		dataHash, err := data.Hash()
		if err != nil {
			return nil
		}
		req := Request{
			Account:           account,
			Code:              code,
			Data:              data,
			CodeHash:          ton.Bits256(codeHash),
			DataHash:          ton.Bits256(dataHash),
			LastTransactionLt: lastTxLt,
			Now:               uint32(time.Now().Unix()),
			// A rescan's entire purpose is to re-verify an entity
			// whose code_hash/data_hash haven't changed since a
			// provisional cache hit — without this the address cache
			// would just hand back the same unverified record.
			ForceRefresh: true,
		}
		r.pipeline.DetectAll(ctx, req)
		count++
		return nil
	})

	logger.Printf("detect", "rescan swept %d accounts in %s", count, time.Since(start))
	return err
}
