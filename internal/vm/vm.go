// Package vm defines the smart-contract VM collaborator: get-method
// execution and single-transaction emulation. The concrete
// implementation wraps tongo/tvm and tongo/txemulator; this package
// only states the contract the rest of the pipeline depends on.
package vm

import (
	"context"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// GetMethodResult is the outcome of a single run_get_method call.
type GetMethodResult struct {
	Success  bool
	ExitCode uint32
	Stack    tlb.VmStack
}

// EmulationResult is the outcome of emulating one transaction: the
// mutated account, the produced transaction cell, and its out-msgs.
type EmulationResult struct {
	NewAccount tlb.ShardAccount
	TxRoot     *boc.Cell
	OutMsgs    []*boc.Cell
}

// Emulator is the VM collaborator. Library resolution (code.FindLibraries
// / code.LibrariesToBase64) and config assembly are the implementation's
// responsibility, not the caller's.
type Emulator interface {
	RunGetMethod(ctx context.Context, account ton.AccountID, code, data *boc.Cell, methodID int, stack tlb.VmStack, now uint32) (GetMethodResult, error)

	EmulateTransaction(ctx context.Context, account ton.AccountID, state tlb.ShardAccount, config tlb.ConfigParams, inMsg *boc.Cell) (EmulationResult, error)
}
