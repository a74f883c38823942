package detect

import (
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/errs"
)

// stackInt reads a vm_stk_tinyint or vm_stk_int entry as an int64. Most
// get-method integer returns (mintable flags, indices, booleans) fit
// comfortably in 64 bits; callers that need the full 257-bit width
// (total_supply, balance) use stackInt257 instead.
func stackInt(stack tlb.VmStack, i int) (int64, error) {
	v, err := stackInt257(stack, i)
	if err != nil {
		return 0, err
	}
	return big.Int(v).Int64(), nil
}

// stackInt257 reads a vm_stk_tinyint or vm_stk_int entry preserving its
// full width, for fields like total_supply and balance that can exceed
// 64 bits. tlb.Int257 is backed by math/big.Int, the same as every
// other wide-integer field this package already carries.
func stackInt257(stack tlb.VmStack, i int) (tlb.Int257, error) {
	if i >= len(stack) {
		return tlb.Int257{}, errs.New(errs.InterfaceParseError, "stack entry out of range")
	}
	v := stack[i]
	switch v.SumType {
	case "VmStkTinyInt":
		return tlb.Int257(*big.NewInt(v.VmStkTinyInt)), nil
	case "VmStkInt":
		return v.VmStkInt, nil
	default:
		return tlb.Int257{}, errs.New(errs.InterfaceParseError, "stack entry is not an int: "+v.SumType)
	}
}

// stackBool reads an integer stack entry as a TON boolean: zero is
// false, anything else is true.
func stackBool(stack tlb.VmStack, i int) (bool, error) {
	v, err := stackInt(stack, i)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// stackCell reads a vm_stk_cell entry.
func stackCell(stack tlb.VmStack, i int) (*boc.Cell, error) {
	if i >= len(stack) {
		return nil, errs.New(errs.InterfaceParseError, "stack entry out of range")
	}
	v := stack[i]
	if v.SumType != "VmStkCell" {
		return nil, errs.New(errs.InterfaceParseError, "stack entry is not a cell: "+v.SumType)
	}
	cell := v.VmStkCell.Value
	return &cell, nil
}

// stackAddress reads a vm_stk_slice entry and parses it as a
// MsgAddress, the shape every address-typed get-method return uses.
func stackAddress(stack tlb.VmStack, i int) (*ton.AccountID, error) {
	if i >= len(stack) {
		return nil, errs.New(errs.InterfaceParseError, "stack entry out of range")
	}
	v := stack[i]
	if v.SumType != "VmStkSlice" {
		return nil, errs.New(errs.InterfaceParseError, "stack entry is not a slice: "+v.SumType)
	}
	cell := v.VmStkSlice.Cell
	var addr tlb.MsgAddress
	if err := tlb.Unmarshal(&cell, &addr); err != nil {
		return nil, errs.Wrap(errs.InterfaceParseError, "decode address slice", err)
	}
	account, err := ton.AccountIDFromTlb(addr)
	if err != nil {
		return nil, errs.Wrap(errs.InterfaceParseError, "address slice is not a valid account", err)
	}
	return account, nil
}

// addressStackParam builds the vm_stk_slice input parameter a
// get-method taking a `slice owner_address` argument expects.
func addressStackParam(account ton.AccountID) (tlb.VmStackValue, error) {
	cell := boc.NewCell()
	if err := tlb.Marshal(cell, account.ToMsgAddress()); err != nil {
		return tlb.VmStackValue{}, errs.Wrap(errs.VmError, "marshal address param", err)
	}
	return tlb.VmStackValue{
		SumType:    "VmStkSlice",
		VmStkSlice: tlb.VmCellSlice{Cell: *cell},
	}, nil
}

// intStackParam builds the vm_stk_tinyint input parameter a get-method
// taking an `int index` argument expects.
func intStackParam(v int64) tlb.VmStackValue {
	return tlb.VmStackValue{SumType: "VmStkTinyInt", VmStkTinyInt: v}
}

// decodeTep64Content derives the token-metadata map from a TEP-64
// content cell. The on-chain HashmapE and off-chain snake-encoded URI
// encodings both require a cell bit-reader this package does not yet
// have verified access to, so this is an honest stub: callers get an
// empty map rather than a guessed-at partial parse.
// TODO: parse the on-chain HashmapE / off-chain snake-string payload
// once a verified cell bit-reader is available.
func decodeTep64Content(cell *boc.Cell) map[string]string {
	return map[string]string{}
}
