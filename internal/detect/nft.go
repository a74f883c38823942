package detect

import (
	"context"

	"github.com/tonkeeper/tongo/tlb"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/tonmodel"
	"github.com/greymass/traceindex/internal/vm"
)

type NftCollectionDetector struct {
	emulator vm.Emulator
	mgr      *InterfaceManager
	cache    *AddressCache
	sink     Sink
}

func NewNftCollectionDetector(emulator vm.Emulator, mgr *InterfaceManager, sink Sink) *NftCollectionDetector {
	return &NftCollectionDetector{emulator: emulator, mgr: mgr, cache: NewAddressCache(tonmodel.InterfaceNftCollection), sink: sink}
}

func (d *NftCollectionDetector) Kind() tonmodel.InterfaceKind { return tonmodel.InterfaceNftCollection }

func (d *NftCollectionDetector) Detect(ctx context.Context, req Request) (tonmodel.InterfaceRecord, error) {
	if err := codeHashGate(d.mgr, req.CodeHash, tonmodel.InterfaceNftCollection); err != nil {
		return tonmodel.InterfaceRecord{}, err
	}
	if !req.ForceRefresh {
		if cached, ok := d.cache.Get(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt); ok {
			return cached, nil
		}
	}

	result, err := runGetMethod(ctx, d.emulator, req, MethodGetCollectionData, nil)
	if err != nil {
		d.mgr.Record(req.CodeHash, tonmodel.InterfaceNftCollection, false)
		return tonmodel.InterfaceRecord{}, err
	}

	data, err := decodeNftCollectionStack(result.Stack)
	if err != nil {
		return tonmodel.InterfaceRecord{}, err
	}

	d.mgr.Record(req.CodeHash, tonmodel.InterfaceNftCollection, true)

	record := tonmodel.InterfaceRecord{
		Account:           req.Account,
		Kind:              tonmodel.InterfaceNftCollection,
		CodeHash:          req.CodeHash,
		DataHash:          req.DataHash,
		LastTransactionLt: req.LastTransactionLt,
		NftCollection:     &data,
	}
	d.cache.Put(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt, record)
	if d.sink != nil {
		d.sink.UpsertNftCollection(ctx, req.Account, data, req.LastTransactionLt)
	}
	return record, nil
}

type NftItemDetector struct {
	emulator vm.Emulator
	mgr      *InterfaceManager
	cache    *AddressCache
	accounts AccountFetcher
	sink     Sink
}

func NewNftItemDetector(emulator vm.Emulator, mgr *InterfaceManager, accounts AccountFetcher, sink Sink) *NftItemDetector {
	return &NftItemDetector{emulator: emulator, mgr: mgr, cache: NewAddressCache(tonmodel.InterfaceNftItem), accounts: accounts, sink: sink}
}

func (d *NftItemDetector) Kind() tonmodel.InterfaceKind { return tonmodel.InterfaceNftItem }

func (d *NftItemDetector) Detect(ctx context.Context, req Request) (tonmodel.InterfaceRecord, error) {
	if err := codeHashGate(d.mgr, req.CodeHash, tonmodel.InterfaceNftItem); err != nil {
		return tonmodel.InterfaceRecord{}, err
	}
	if !req.ForceRefresh {
		if cached, ok := d.cache.Get(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt); ok {
			return cached, nil
		}
	}

	result, err := runGetMethod(ctx, d.emulator, req, MethodGetNftData, nil)
	if err != nil {
		d.mgr.Record(req.CodeHash, tonmodel.InterfaceNftItem, false)
		return tonmodel.InterfaceRecord{}, err
	}

	data, err := decodeNftItemStack(result.Stack)
	if err != nil {
		return tonmodel.InterfaceRecord{}, err
	}

	d.verifyAgainstCollection(ctx, req, &data)

	d.mgr.Record(req.CodeHash, tonmodel.InterfaceNftItem, true)

	record := tonmodel.InterfaceRecord{
		Account:           req.Account,
		Kind:              tonmodel.InterfaceNftItem,
		CodeHash:          req.CodeHash,
		DataHash:          req.DataHash,
		LastTransactionLt: req.LastTransactionLt,
		NftItem:           &data,
	}
	d.cache.Put(req.Account, req.CodeHash, req.DataHash, req.LastTransactionLt, record)
	if d.sink != nil {
		d.sink.UpsertNftItem(ctx, req.Account, data, req.LastTransactionLt)
	}
	return record, nil
}

// verifyAgainstCollection recomputes the item's own address via
// collection.get_nft_address_by_index(index) and marks
// CollectionVerified. Item content comes from the item's own
// get_nft_data individual_content cell rather than a second
// collection-side call: TEP-62 leaves get_nft_content's combination
// rule implementation-defined, and get_nft_data already returned the
// cell this detector needs. A collection not yet indexed leaves the
// item unverified, matching the Jetton Wallet provisional-cache
// behavior.
func (d *NftItemDetector) verifyAgainstCollection(ctx context.Context, req Request, data *tonmodel.NftItemData) {
	if data.CollectionAddress == nil {
		return
	}
	collCode, collData, _, err := d.accounts.FetchCodeData(ctx, *data.CollectionAddress)
	if err != nil {
		return
	}

	collReq := Request{Account: *data.CollectionAddress, Code: collCode, Data: collData, Now: req.Now}
	result, err := runGetMethod(ctx, d.emulator, collReq, MethodGetNftAddressByIndex, tlb.VmStack{intStackParam(data.Index)})
	if err != nil {
		return
	}
	recomputed, ok := decodeWalletAddressStack(result.Stack)
	if !ok {
		return
	}
	data.CollectionVerified = recomputed == req.Account
}

// decodeNftCollectionStack decodes get_collection_data's fixed
// three-entry shape: next_item_index int, collection_content cell,
// owner_address slice.
func decodeNftCollectionStack(stack tlb.VmStack) (tonmodel.NftCollectionData, error) {
	if len(stack) != 3 {
		return tonmodel.NftCollectionData{}, errs.New(errs.InterfaceParseError, "get_collection_data: unexpected stack depth")
	}
	nextItemIndex, err := stackInt(stack, 0)
	if err != nil {
		return tonmodel.NftCollectionData{}, err
	}
	content, err := stackCell(stack, 1)
	if err != nil {
		return tonmodel.NftCollectionData{}, err
	}
	owner, err := stackAddress(stack, 2)
	if err != nil {
		return tonmodel.NftCollectionData{}, err
	}
	return tonmodel.NftCollectionData{
		NextItemIndex: nextItemIndex,
		Content:       decodeTep64Content(content),
		OwnerAddress:  owner,
	}, nil
}

// decodeNftItemStack decodes get_nft_data's fixed five-entry shape:
// init? int, index int, collection_address slice, owner_address
// slice, individual_content cell.
func decodeNftItemStack(stack tlb.VmStack) (tonmodel.NftItemData, error) {
	if len(stack) != 5 {
		return tonmodel.NftItemData{}, errs.New(errs.InterfaceParseError, "get_nft_data: unexpected stack depth")
	}
	initialized, err := stackBool(stack, 0)
	if err != nil {
		return tonmodel.NftItemData{}, err
	}
	index, err := stackInt(stack, 1)
	if err != nil {
		return tonmodel.NftItemData{}, err
	}
	collection, err := stackAddress(stack, 2)
	if err != nil {
		return tonmodel.NftItemData{}, err
	}
	owner, err := stackAddress(stack, 3)
	if err != nil {
		return tonmodel.NftItemData{}, err
	}
	content, err := stackCell(stack, 4)
	if err != nil {
		return tonmodel.NftItemData{}, err
	}
	return tonmodel.NftItemData{
		Initialized:       initialized,
		Index:             index,
		CollectionAddress: collection,
		OwnerAddress:      owner,
		Content:           decodeTep64Content(content),
	}, nil
}
