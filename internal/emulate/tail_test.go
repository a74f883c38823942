package emulate

import (
	"context"
	"testing"

	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/vm"
)

type fakeStates struct {
	states map[ton.AccountID]tlb.ShardAccount
}

func (f *fakeStates) GetAccountState(ctx context.Context, account ton.AccountID) (tlb.ShardAccount, error) {
	return f.states[account], nil
}

func TestBuildResolvesOnChainChild(t *testing.T) {
	rootAccount := ton.AccountID{Workchain: 0, Address: ton.Bits256{0x01}}
	childAccount := ton.AccountID{Workchain: 0, Address: ton.Bits256{0x02}}

	rootInMsg := ton.Bits256{0xaa}
	childInMsg := ton.Bits256{0xbb}

	rootTx := tonmodel.TransactionInfo{
		Account:        rootAccount,
		Lt:             1,
		InMsgHash:      rootInMsg,
		IsFirst:        true,
		InitialMsgHash: rootInMsg,
		HasInitialHash: true,
		OutMsgs: []tonmodel.OutMsgInfo{
			{Hash: childInMsg, Dest: &childAccount},
		},
	}
	childTx := tonmodel.TransactionInfo{
		Account:        childAccount,
		Lt:             2,
		InMsgHash:      childInMsg,
		InitialMsgHash: rootInMsg,
		HasInitialHash: true,
	}

	byInMsgHash := map[ton.Bits256]tonmodel.TransactionInfo{
		childInMsg: childTx,
	}

	tailEmu := NewTraceTailEmulator(vm.NewFake(), &fakeStates{}, tlb.ConfigParams{})

	trace, err := tailEmu.Build(context.Background(), rootTx, byInMsgHash)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if trace.ID != rootInMsg {
		t.Errorf("trace id = %x, want %x", trace.ID, rootInMsg)
	}
	if len(trace.Root.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(trace.Root.Children))
	}
	if trace.Root.Children[0].Emulated {
		t.Errorf("on-chain child should not be marked emulated")
	}
	if trace.Root.Children[0].NodeID != childInMsg {
		t.Errorf("child node id = %x, want %x", trace.Root.Children[0].NodeID, childInMsg)
	}
}

func TestBuildEmulatesMissingChild(t *testing.T) {
	rootAccount := ton.AccountID{Workchain: 0, Address: ton.Bits256{0x01}}
	childAccount := ton.AccountID{Workchain: 0, Address: ton.Bits256{0x03}}

	rootInMsg := ton.Bits256{0xcc}
	unresolvedOut := ton.Bits256{0xdd}

	rootTx := tonmodel.TransactionInfo{
		Account:        rootAccount,
		Lt:             1,
		InMsgHash:      rootInMsg,
		IsFirst:        true,
		InitialMsgHash: rootInMsg,
		HasInitialHash: true,
		OutMsgs: []tonmodel.OutMsgInfo{
			{Hash: unresolvedOut, Dest: &childAccount},
		},
	}

	fake := vm.NewFake()
	tailEmu := NewTraceTailEmulator(fake, &fakeStates{states: map[ton.AccountID]tlb.ShardAccount{}}, tlb.ConfigParams{})

	trace, err := tailEmu.Build(context.Background(), rootTx, map[ton.Bits256]tonmodel.TransactionInfo{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(trace.Root.Children) != 1 {
		t.Fatalf("expected 1 emulated child, got %d", len(trace.Root.Children))
	}
	if !trace.Root.Children[0].Emulated {
		t.Errorf("expected emulated child")
	}
	if len(trace.EmulatedAccounts[childAccount]) != 1 {
		t.Errorf("expected emulated_accounts to record the mutated child account")
	}
}

func TestMaxTraceDepthConstant(t *testing.T) {
	if MaxTraceDepth != 20 {
		t.Fatalf("MaxTraceDepth = %d, want 20", MaxTraceDepth)
	}
}
