package store

import (
	"context"
	"errors"
	"testing"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
)

// fakeStore is a minimal Store whose Upsert* methods return a
// configurable error, used to exercise SinkAdapter's error-to-callback
// conversion without a database.
type fakeStore struct {
	err error
}

func (f fakeStore) InsertBlocks(ctx context.Context, parsed []tonmodel.ParsedBlock) error {
	return nil
}
func (f fakeStore) SelectExistingSeqnos(ctx context.Context) (map[uint32]struct{}, error) {
	return nil, nil
}
func (f fakeStore) UpsertJettonMaster(ctx context.Context, account ton.AccountID, data tonmodel.JettonMasterData, lt uint64) error {
	return f.err
}
func (f fakeStore) UpsertJettonWallet(ctx context.Context, account ton.AccountID, data tonmodel.JettonWalletData, lt uint64) error {
	return f.err
}
func (f fakeStore) UpsertNftCollection(ctx context.Context, account ton.AccountID, data tonmodel.NftCollectionData, lt uint64) error {
	return f.err
}
func (f fakeStore) UpsertNftItem(ctx context.Context, account ton.AccountID, data tonmodel.NftItemData, lt uint64) error {
	return f.err
}

func TestSinkAdapterCallsOnErrWhenUpsertFails(t *testing.T) {
	failure := errors.New("constraint violation")
	var got []error
	adapter := SinkAdapter{
		Store: fakeStore{err: failure},
		OnErr: func(err error) { got = append(got, err) },
	}

	ctx := context.Background()
	acct := ton.AccountID{}

	adapter.UpsertJettonMaster(ctx, acct, tonmodel.JettonMasterData{}, 1)
	adapter.UpsertJettonWallet(ctx, acct, tonmodel.JettonWalletData{}, 1)
	adapter.UpsertNftCollection(ctx, acct, tonmodel.NftCollectionData{}, 1)
	adapter.UpsertNftItem(ctx, acct, tonmodel.NftItemData{}, 1)

	if len(got) != 4 {
		t.Fatalf("expected OnErr called 4 times, got %d", len(got))
	}
	for _, err := range got {
		if !errors.Is(err, failure) {
			t.Errorf("expected wrapped failure, got %v", err)
		}
	}
}

func TestSinkAdapterSilentOnSuccess(t *testing.T) {
	called := false
	adapter := SinkAdapter{
		Store: fakeStore{err: nil},
		OnErr: func(err error) { called = true },
	}

	adapter.UpsertJettonMaster(context.Background(), ton.AccountID{}, tonmodel.JettonMasterData{}, 1)

	if called {
		t.Fatal("OnErr should not be called when the upsert succeeds")
	}
}

func TestSinkAdapterNilOnErrDoesNotPanic(t *testing.T) {
	adapter := SinkAdapter{Store: fakeStore{err: errors.New("boom")}}
	adapter.UpsertJettonMaster(context.Background(), ton.AccountID{}, tonmodel.JettonMasterData{}, 1)
}
