package vm

import (
	"context"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Fake is a scripted Emulator used by detector and trace-emulator
// tests; get-method responses are keyed by method id (not by account)
// so a test can set up exactly the get-method results it needs, and
// every EmulateTransaction call returns EmulateResult, or EmulateErr
// when it is set.
type Fake struct {
	GetMethodResults map[int]GetMethodResult
	GetMethodErr     map[int]error
	EmulateResult    EmulationResult
	EmulateErr       error
	Calls            []int
}

func NewFake() *Fake {
	return &Fake{
		GetMethodResults: make(map[int]GetMethodResult),
		GetMethodErr:     make(map[int]error),
	}
}

func (f *Fake) RunGetMethod(ctx context.Context, account ton.AccountID, code, data *boc.Cell, methodID int, stack tlb.VmStack, now uint32) (GetMethodResult, error) {
	f.Calls = append(f.Calls, methodID)
	if err, ok := f.GetMethodErr[methodID]; ok {
		return GetMethodResult{}, err
	}
	return f.GetMethodResults[methodID], nil
}

func (f *Fake) EmulateTransaction(ctx context.Context, account ton.AccountID, state tlb.ShardAccount, config tlb.ConfigParams, inMsg *boc.Cell) (EmulationResult, error) {
	if f.EmulateErr != nil {
		return EmulationResult{}, f.EmulateErr
	}
	return f.EmulateResult, nil
}

var _ Emulator = (*Fake)(nil)
