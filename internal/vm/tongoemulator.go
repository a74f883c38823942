package vm

import (
	"context"
	"fmt"

	"github.com/tonkeeper/tongo"
	"github.com/tonkeeper/tongo/boc"
	tongocode "github.com/tonkeeper/tongo/code"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/tvm"
	"github.com/tonkeeper/tongo/txemulator"

	"github.com/greymass/traceindex/internal/errs"
)

// LibraryProvider resolves public libraries referenced by a contract's
// code, e.g. via a lite-client's GetLibraries. It is a narrow seam so
// TongoEmulator does not depend on the block source directly.
type LibraryProvider interface {
	GetLibraries(ctx context.Context, hashes []ton.Bits256) (map[ton.Bits256]*boc.Cell, error)
}

// TongoEmulator implements Emulator on top of tongo's tvm package, the
// same stack a lite-client-backed indexer uses to run get-methods and
// emulate transactions against a snapshot account state.
type TongoEmulator struct {
	libs     LibraryProvider
	gasLimit int64
}

func NewTongoEmulator(libs LibraryProvider, gasLimit int64) *TongoEmulator {
	if gasLimit <= 0 {
		gasLimit = 10_000_000
	}
	return &TongoEmulator{libs: libs, gasLimit: gasLimit}
}

func (e *TongoEmulator) resolveLibs(ctx context.Context, code *boc.Cell) (map[string]string, error) {
	libHashes, err := tongocode.FindLibraries(code)
	if err != nil {
		return nil, errs.Wrap(errs.VmError, "find libraries", err)
	}
	libs := map[tongo.Bits256]*boc.Cell{}
	if len(libHashes) > 0 && e.libs != nil {
		fetched, err := e.libs.GetLibraries(ctx, libHashes)
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "fetch libraries", err)
		}
		for hash, lib := range fetched {
			libs[tongo.Bits256(hash)] = lib
		}
	}
	base64libs, err := tongocode.LibrariesToBase64(libs)
	if err != nil {
		return nil, errs.Wrap(errs.VmError, "encode libraries", err)
	}
	return base64libs, nil
}

func (e *TongoEmulator) RunGetMethod(ctx context.Context, account ton.AccountID, code, data *boc.Cell, methodID int, stack tlb.VmStack, now uint32) (GetMethodResult, error) {
	base64libs, err := e.resolveLibs(ctx, code)
	if err != nil {
		return GetMethodResult{}, err
	}

	cfg := boc.NewCell()
	emulator, err := tvm.NewEmulator(code, data, cfg,
		tvm.WithVerbosityLevel(txemulator.LogTruncated),
		tvm.WithLibrariesBase64(base64libs))
	if err != nil {
		return GetMethodResult{}, errs.Wrap(errs.VmError, "create emulator", err)
	}
	if err := emulator.SetGasLimit(e.gasLimit); err != nil {
		return GetMethodResult{}, errs.Wrap(errs.VmError, "set gas limit", err)
	}

	exitCode, outStack, err := emulator.RunSmcMethodByID(ctx, account, methodID, stack)
	if err != nil {
		return GetMethodResult{}, errs.Wrap(errs.VmError, fmt.Sprintf("run get-method %d", methodID), err)
	}
	return GetMethodResult{
		Success:  exitCode == 0 || exitCode == 1,
		ExitCode: exitCode,
		Stack:    outStack,
	}, nil
}

// EmulateTransaction returns the new account state and the transaction
// cell. It leaves EmulationResult.OutMsgs empty, so trace-tail
// emulation does not continue past a hop emulated through this
// implementation.
func (e *TongoEmulator) EmulateTransaction(ctx context.Context, account ton.AccountID, state tlb.ShardAccount, config tlb.ConfigParams, inMsg *boc.Cell) (EmulationResult, error) {
	emulator, err := txemulator.NewTransactionEmulator(config, 0)
	if err != nil {
		return EmulationResult{}, errs.Wrap(errs.VmError, "create transaction emulator", err)
	}

	newState, txRoot, err := emulator.Emulate(account, state, inMsg)
	if err != nil {
		return EmulationResult{}, errs.Wrap(errs.VmError, "emulate transaction", err)
	}

	return EmulationResult{
		NewAccount: newState,
		TxRoot:     txRoot,
	}, nil
}
