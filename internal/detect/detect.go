package detect

import (
	"context"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"golang.org/x/sync/singleflight"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/vm"
)

// Sink is the write-through target for successful detections: the
// insert manager's per-entity upsert surface. Calls are fire-and-
// forget from the detector's point of view; the sink logs its own
// failures.
type Sink interface {
	UpsertJettonMaster(ctx context.Context, account ton.AccountID, data tonmodel.JettonMasterData, lt uint64)
	UpsertJettonWallet(ctx context.Context, account ton.AccountID, data tonmodel.JettonWalletData, lt uint64)
	UpsertNftCollection(ctx context.Context, account ton.AccountID, data tonmodel.NftCollectionData, lt uint64)
	UpsertNftItem(ctx context.Context, account ton.AccountID, data tonmodel.NftItemData, lt uint64)
}

// Request is the input every detector's detect(address, code, data,
// last_tx_lt) operation needs.
type Request struct {
	Account           ton.AccountID
	Code              *boc.Cell
	Data              *boc.Cell
	CodeHash          ton.Bits256
	DataHash          ton.Bits256
	LastTransactionLt uint64
	Now               uint32

	// ForceRefresh skips the address cache's read (level 2 of the
	// three-tier fast path) so the get-method and any cross-
	// verification run again even though code_hash/data_hash are
	// unchanged. Rescanner sets this: a provisionally-cached Jetton
	// Wallet's code_hash and data_hash never change on their own, so
	// without a bypass the address cache would keep returning the old
	// unverified record forever and verifyAgainstMaster would never
	// run again.
	ForceRefresh bool
}

// Detector is the fixed interface every entity detector implements. The
// kind set is closed (Jetton Master/Wallet, NFT Collection/Item); a
// pipeline dispatches to one handler per kind rather than looping
// reflectively over the set.
type Detector interface {
	Kind() tonmodel.InterfaceKind
	Detect(ctx context.Context, req Request) (tonmodel.InterfaceRecord, error)
}

// Pipeline runs every registered detector against one address and
// de-duplicates concurrent detections of the same (account, kind) via
// singleflight, so a burst of sibling trace emulations touching the
// same contract only runs the get-method once.
type Pipeline struct {
	detectors []Detector
	sink      Sink
	inflight  singleflight.Group
}

func NewPipeline(sink Sink, detectors ...Detector) *Pipeline {
	return &Pipeline{detectors: detectors, sink: sink}
}

// DetectAll runs every detector for req.Account, collecting every
// successful classification. CodeHashRejected and InterfaceParseError
// failures are expected outcomes (an address simply doesn't implement
// that kind) and are not propagated as pipeline failures.
func (p *Pipeline) DetectAll(ctx context.Context, req Request) []tonmodel.InterfaceRecord {
	var out []tonmodel.InterfaceRecord
	for _, d := range p.detectors {
		record, err := p.detectOne(ctx, d, req)
		if err != nil {
			continue
		}
		out = append(out, record)
	}
	return out
}

func (p *Pipeline) detectOne(ctx context.Context, d Detector, req Request) (tonmodel.InterfaceRecord, error) {
	key := req.Account.ToRaw() + ":" + d.Kind().String()
	v, err, _ := p.inflight.Do(key, func() (interface{}, error) {
		return d.Detect(ctx, req)
	})
	if err != nil {
		return tonmodel.InterfaceRecord{}, err
	}
	return v.(tonmodel.InterfaceRecord), nil
}

// codeHashGate is the level-1 fast path shared by every detector:
// consult the InterfaceManager before running any get-method.
func codeHashGate(mgr *InterfaceManager, codeHash ton.Bits256, kind tonmodel.InterfaceKind) error {
	applicable, known := mgr.Lookup(codeHash, kind)
	if known && !applicable {
		return errs.New(errs.CodeHashRejected, "code hash previously rejected for "+kind.String())
	}
	return nil
}

// runGetMethod is the level-3 fast path: invoke the VM and translate a
// VM-level failure into the InterfaceParseError vs VmError distinction
// the pipeline's error taxonomy requires. params carries the
// get-method's own input stack (e.g. the owner address
// get_wallet_address expects, or the index get_nft_address_by_index
// expects); nil is correct for the zero-argument get-methods.
func runGetMethod(ctx context.Context, emulator vm.Emulator, req Request, methodID int, params tlb.VmStack) (vm.GetMethodResult, error) {
	result, err := emulator.RunGetMethod(ctx, req.Account, req.Code, req.Data, methodID, params, req.Now)
	if err != nil {
		return vm.GetMethodResult{}, err
	}
	if !result.Success {
		return vm.GetMethodResult{}, errs.New(errs.InterfaceParseError, "get-method exited unsuccessfully")
	}
	return result, nil
}
