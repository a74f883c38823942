package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/jsonenc"
	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// PgStore is the Postgres-backed Store: one pool, bulk writes via
// CopyFrom for blocks/transactions/messages, ON CONFLICT upserts for
// the four interface tables.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "connecting to store", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errs.Wrap(errs.Transient, "pinging store", err)
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

var _ Store = (*PgStore)(nil)

// InsertBlocks bulk-loads one batch of parsed blocks: one row per
// block into blocks, one row per transaction into transactions, one
// row per outbound message into messages. All three loads run in a
// single transaction so a batch is visible atomically or not at all.
func (s *PgStore) InsertBlocks(ctx context.Context, parsed []tonmodel.ParsedBlock) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, "begin insert batch", err)
	}
	defer tx.Rollback(ctx)

	blockRows := make([][]interface{}, 0, len(parsed))
	var txRows, msgRows [][]interface{}

	for _, block := range parsed {
		blockRows = append(blockRows, []interface{}{block.Seqno, len(block.Transactions)})

		for _, t := range block.Transactions {
			txRows = append(txRows, []interface{}{
				block.Seqno, t.Account.ToRaw(), int64(t.Lt), t.Hash.Hex(), t.InMsgHash.Hex(), t.IsFirst,
			})
			for _, m := range t.OutMsgs {
				dest := ""
				if m.Dest != nil {
					dest = m.Dest.ToRaw()
				}
				msgRows = append(msgRows, []interface{}{
					block.Seqno, t.Hash.Hex(), m.Hash.Hex(), m.External, dest,
				})
			}
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"blocks"}, []string{"seqno", "tx_count"}, pgx.CopyFromRows(blockRows)); err != nil {
		return errs.Wrap(errs.Transient, "copy blocks", err)
	}
	if len(txRows) > 0 {
		cols := []string{"mc_seqno", "account", "lt", "hash", "in_msg_hash", "is_first"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"transactions"}, cols, pgx.CopyFromRows(txRows)); err != nil {
			return errs.Wrap(errs.Transient, "copy transactions", err)
		}
	}
	if len(msgRows) > 0 {
		cols := []string{"mc_seqno", "tx_hash", "hash", "is_external_out", "dest"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"messages"}, cols, pgx.CopyFromRows(msgRows)); err != nil {
			return errs.Wrap(errs.Transient, "copy messages", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.Transient, "commit insert batch", err)
	}
	logger.Printf("store", "inserted batch: %d blocks, %d txs, %d msgs", len(blockRows), len(txRows), len(msgRows))
	return nil
}

// SelectExistingSeqnos loads every seqno already present in blocks, for
// the scheduler's startup catch-up range and existing_seqnos set.
func (s *PgStore) SelectExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error) {
	rows, err := s.pool.Query(ctx, "select seqno from blocks")
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "select existing seqnos", err)
	}
	defer rows.Close()

	out := make(map[uint32]struct{})
	for rows.Next() {
		var seqno uint32
		if err := rows.Scan(&seqno); err != nil {
			return nil, errs.Wrap(errs.Transient, "scan seqno", err)
		}
		out[seqno] = struct{}{}
	}
	return out, rows.Err()
}

func (s *PgStore) UpsertJettonMaster(ctx context.Context, account ton.AccountID, data tonmodel.JettonMasterData, lt uint64) error {
	admin := ""
	if data.AdminAddress != nil {
		admin = data.AdminAddress.ToRaw()
	}
	content, err := jsonenc.MarshalContent(data.Content)
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("encode jetton master content %s", account.ToRaw()), err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into jetton_masters (account, total_supply, mintable, admin_address, content, last_transaction_lt)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (account) do update set
			total_supply = excluded.total_supply,
			mintable = excluded.mintable,
			admin_address = excluded.admin_address,
			content = excluded.content,
			last_transaction_lt = excluded.last_transaction_lt
		where jetton_masters.last_transaction_lt < excluded.last_transaction_lt
	`, account.ToRaw(), data.TotalSupply.String(), data.Mintable, admin, content, int64(lt))
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("upsert jetton master %s", account.ToRaw()), err)
	}
	return nil
}

func (s *PgStore) UpsertJettonWallet(ctx context.Context, account ton.AccountID, data tonmodel.JettonWalletData, lt uint64) error {
	_, err := s.pool.Exec(ctx, `
		insert into jetton_wallets (account, owner, jetton, balance, master_verified, provisionally_cached, last_transaction_lt)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (account) do update set
			owner = excluded.owner,
			jetton = excluded.jetton,
			balance = excluded.balance,
			master_verified = excluded.master_verified,
			provisionally_cached = excluded.provisionally_cached,
			last_transaction_lt = excluded.last_transaction_lt
		where jetton_wallets.last_transaction_lt < excluded.last_transaction_lt
	`, account.ToRaw(), data.Owner.ToRaw(), data.Jetton.ToRaw(), data.Balance.String(), data.MasterVerified, data.ProvisionallyCached, int64(lt))
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("upsert jetton wallet %s", account.ToRaw()), err)
	}
	return nil
}

func (s *PgStore) UpsertNftCollection(ctx context.Context, account ton.AccountID, data tonmodel.NftCollectionData, lt uint64) error {
	owner := ""
	if data.OwnerAddress != nil {
		owner = data.OwnerAddress.ToRaw()
	}
	content, err := jsonenc.MarshalContent(data.Content)
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("encode nft collection content %s", account.ToRaw()), err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into nft_collections (account, next_item_index, owner_address, content, last_transaction_lt)
		values ($1, $2, $3, $4, $5)
		on conflict (account) do update set
			next_item_index = excluded.next_item_index,
			owner_address = excluded.owner_address,
			content = excluded.content,
			last_transaction_lt = excluded.last_transaction_lt
		where nft_collections.last_transaction_lt < excluded.last_transaction_lt
	`, account.ToRaw(), data.NextItemIndex, owner, content, int64(lt))
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("upsert nft collection %s", account.ToRaw()), err)
	}
	return nil
}

func (s *PgStore) UpsertNftItem(ctx context.Context, account ton.AccountID, data tonmodel.NftItemData, lt uint64) error {
	collection, owner := "", ""
	if data.CollectionAddress != nil {
		collection = data.CollectionAddress.ToRaw()
	}
	if data.OwnerAddress != nil {
		owner = data.OwnerAddress.ToRaw()
	}
	content, err := jsonenc.MarshalContent(data.Content)
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("encode nft item content %s", account.ToRaw()), err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into nft_items (account, collection, index, owner_address, initialized, collection_verified, content, last_transaction_lt)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (account) do update set
			collection = excluded.collection,
			index = excluded.index,
			owner_address = excluded.owner_address,
			initialized = excluded.initialized,
			collection_verified = excluded.collection_verified,
			content = excluded.content,
			last_transaction_lt = excluded.last_transaction_lt
		where nft_items.last_transaction_lt < excluded.last_transaction_lt
	`, account.ToRaw(), collection, data.Index, owner, data.Initialized, data.CollectionVerified, content, int64(lt))
	if err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("upsert nft item %s", account.ToRaw()), err)
	}
	return nil
}
