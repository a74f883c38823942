package detect

import (
	"context"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/vm"
)

// AccountFetcher resolves a contract's current code/data cells, used
// by cross-verification to run a get-method against a counterparty
// contract (a Jetton Wallet's master, an NFT Item's collection).
type AccountFetcher interface {
	FetchCodeData(ctx context.Context, account ton.AccountID) (code, data *boc.Cell, lastTransactionLt uint64, err error)
}

type JettonMasterDetector struct {
	emulator vm.Emulator
	mgr      *InterfaceManager
	cache    *AddressCache
	sink     Sink
}

func NewJettonMasterDetector(emulator vm.Emulator, mgr *InterfaceManager, sink Sink) *JettonMasterDetector {
	return &JettonMasterDetector{emulator: emulator, mgr: mgr, cache: NewAddressCache(tonmodel.InterfaceJettonMaster), sink: sink}
}

func (d *JettonMasterDetector) Kind() tonmodel.InterfaceKind { return tonmodel.InterfaceJettonMaster }

func (d *JettonMasterDetector) Detect(ctx context.Context, req Request) (tonmodel.InterfaceRecord, error) {
	if err := codeHashGate(d.mgr, req.CodeHash, tonmodel.InterfaceJettonMaster); err != nil {
		return tonmodel.InterfaceRecord{}, err
	}
	if !req.ForceRefresh {
		if cached, ok := d.cache.Get(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt); ok {
			return cached, nil
		}
	}

	result, err := runGetMethod(ctx, d.emulator, req, MethodGetJettonData, nil)
	if err != nil {
		d.mgr.Record(req.CodeHash, tonmodel.InterfaceJettonMaster, false)
		return tonmodel.InterfaceRecord{}, err
	}

	data, err := decodeJettonMasterStack(result.Stack)
	if err != nil {
		return tonmodel.InterfaceRecord{}, err
	}

	d.mgr.Record(req.CodeHash, tonmodel.InterfaceJettonMaster, true)

	record := tonmodel.InterfaceRecord{
		Account:           req.Account,
		Kind:              tonmodel.InterfaceJettonMaster,
		CodeHash:          req.CodeHash,
		DataHash:          req.DataHash,
		LastTransactionLt: req.LastTransactionLt,
		JettonMaster:      &data,
	}
	d.cache.Put(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt, record)
	if d.sink != nil {
		d.sink.UpsertJettonMaster(ctx, req.Account, data, req.LastTransactionLt)
	}
	return record, nil
}

// decodeJettonMasterStack decodes get_jetton_data's fixed five-entry
// shape: total_supply int, mintable int, admin_address slice,
// jetton_content cell, jetton_wallet_code cell. A stack-shape or
// entry-tag mismatch is InterfaceParseError, not MalformedBlock: the
// contract simply doesn't answer like a Jetton Master.
func decodeJettonMasterStack(stack tlb.VmStack) (tonmodel.JettonMasterData, error) {
	if len(stack) != 5 {
		return tonmodel.JettonMasterData{}, errs.New(errs.InterfaceParseError, "get_jetton_data: unexpected stack depth")
	}
	totalSupply, err := stackInt257(stack, 0)
	if err != nil {
		return tonmodel.JettonMasterData{}, err
	}
	mintable, err := stackBool(stack, 1)
	if err != nil {
		return tonmodel.JettonMasterData{}, err
	}
	admin, err := stackAddress(stack, 2)
	if err != nil {
		return tonmodel.JettonMasterData{}, err
	}
	content, err := stackCell(stack, 3)
	if err != nil {
		return tonmodel.JettonMasterData{}, err
	}
	walletCode, err := stackCell(stack, 4)
	if err != nil {
		return tonmodel.JettonMasterData{}, err
	}
	return tonmodel.JettonMasterData{
		TotalSupply:      totalSupply,
		Mintable:         mintable,
		AdminAddress:     admin,
		Content:          decodeTep64Content(content),
		JettonWalletCode: walletCode,
	}, nil
}

type JettonWalletDetector struct {
	emulator vm.Emulator
	mgr      *InterfaceManager
	cache    *AddressCache
	accounts AccountFetcher
	sink     Sink
}

func NewJettonWalletDetector(emulator vm.Emulator, mgr *InterfaceManager, accounts AccountFetcher, sink Sink) *JettonWalletDetector {
	return &JettonWalletDetector{emulator: emulator, mgr: mgr, cache: NewAddressCache(tonmodel.InterfaceJettonWallet), accounts: accounts, sink: sink}
}

func (d *JettonWalletDetector) Kind() tonmodel.InterfaceKind { return tonmodel.InterfaceJettonWallet }

func (d *JettonWalletDetector) Detect(ctx context.Context, req Request) (tonmodel.InterfaceRecord, error) {
	if err := codeHashGate(d.mgr, req.CodeHash, tonmodel.InterfaceJettonWallet); err != nil {
		return tonmodel.InterfaceRecord{}, err
	}
	if !req.ForceRefresh {
		if cached, ok := d.cache.Get(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt); ok {
			return cached, nil
		}
	}

	result, err := runGetMethod(ctx, d.emulator, req, MethodGetWalletData, nil)
	if err != nil {
		d.mgr.Record(req.CodeHash, tonmodel.InterfaceJettonWallet, false)
		return tonmodel.InterfaceRecord{}, err
	}

	data, err := decodeJettonWalletStack(result.Stack)
	if err != nil {
		return tonmodel.InterfaceRecord{}, err
	}

	d.verifyAgainstMaster(ctx, req, &data)

	d.mgr.Record(req.CodeHash, tonmodel.InterfaceJettonWallet, true)

	record := tonmodel.InterfaceRecord{
		Account:           req.Account,
		Kind:              tonmodel.InterfaceJettonWallet,
		CodeHash:          req.CodeHash,
		DataHash:          req.DataHash,
		LastTransactionLt: req.LastTransactionLt,
		JettonWallet:      &data,
	}
	// Provisional caching: a wallet whose master is not yet indexed
	// is still cached and written through. A later detection of the
	// master does not retroactively reject it (see the open-question
	// decision recorded in the repository's design notes).
	d.cache.Put(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt, record)
	if d.sink != nil {
		d.sink.UpsertJettonWallet(ctx, req.Account, data, req.LastTransactionLt)
	}
	return record, nil
}

// verifyAgainstMaster recomputes the wallet's own address via
// master.get_wallet_address(owner) and marks MasterVerified. A master
// that cannot yet be fetched (not indexed) leaves the wallet
// provisionally unverified rather than rejected.
func (d *JettonWalletDetector) verifyAgainstMaster(ctx context.Context, req Request, data *tonmodel.JettonWalletData) {
	masterCode, masterData, _, err := d.accounts.FetchCodeData(ctx, data.Jetton)
	if err != nil {
		data.ProvisionallyCached = true
		return
	}

	ownerParam, err := addressStackParam(data.Owner)
	if err != nil {
		data.ProvisionallyCached = true
		return
	}

	masterReq := Request{Account: data.Jetton, Code: masterCode, Data: masterData, Now: req.Now}
	result, err := runGetMethod(ctx, d.emulator, masterReq, MethodGetWalletAddress, tlb.VmStack{ownerParam})
	if err != nil {
		data.ProvisionallyCached = true
		return
	}

	recomputed, ok := decodeWalletAddressStack(result.Stack)
	if !ok {
		data.ProvisionallyCached = true
		return
	}
	data.MasterVerified = recomputed == req.Account
}

// decodeJettonWalletStack decodes get_wallet_data's fixed four-entry
// shape: balance int, owner_address slice, jetton_master_address
// slice, jetton_wallet_code cell.
func decodeJettonWalletStack(stack tlb.VmStack) (tonmodel.JettonWalletData, error) {
	if len(stack) != 4 {
		return tonmodel.JettonWalletData{}, errs.New(errs.InterfaceParseError, "get_wallet_data: unexpected stack depth")
	}
	balance, err := stackInt257(stack, 0)
	if err != nil {
		return tonmodel.JettonWalletData{}, err
	}
	owner, err := stackAddress(stack, 1)
	if err != nil {
		return tonmodel.JettonWalletData{}, err
	}
	jetton, err := stackAddress(stack, 2)
	if err != nil {
		return tonmodel.JettonWalletData{}, err
	}
	walletCode, err := stackCell(stack, 3)
	if err != nil {
		return tonmodel.JettonWalletData{}, err
	}
	return tonmodel.JettonWalletData{
		Balance:          balance,
		Owner:            *owner,
		Jetton:           *jetton,
		JettonWalletCode: walletCode,
	}, nil
}

// decodeWalletAddressStack decodes get_wallet_address's single-entry
// `slice jetton_wallet_address` return, shared by the Jetton Wallet's
// verifyAgainstMaster and the NFT Item's verifyAgainstCollection (both
// recompute a counterparty's address the same way).
func decodeWalletAddressStack(stack tlb.VmStack) (ton.AccountID, bool) {
	if len(stack) != 1 {
		return ton.AccountID{}, false
	}
	account, err := stackAddress(stack, 0)
	if err != nil {
		return ton.AccountID{}, false
	}
	return *account, true
}
