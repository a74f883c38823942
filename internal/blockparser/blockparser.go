// Package blockparser decodes a shard block's cell tree into the
// transaction records trace reconstruction and persistence operate on.
// The parser is stateless: every call only touches its own argument,
// so callers may run it concurrently across the shard blocks of one
// masterchain seqno.
package blockparser

import (
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/errs"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// ParseShardBlock decodes one shard block root cell into its ordinary
// transactions. Tick-tock and other non-ordinary descriptors are
// skipped with a warning logged by the caller (the parser itself
// returns a count so the caller can decide how to log it).
func ParseShardBlock(root *boc.Cell) ([]tonmodel.TransactionInfo, int, error) {
	var block tlb.Block
	if err := tlb.Unmarshal(root, &block); err != nil {
		return nil, 0, errs.Wrap(errs.MalformedBlock, "unmarshal block", err)
	}

	var out []tonmodel.TransactionInfo
	skipped := 0

	for _, accBlockKV := range block.Extra.AccountBlocks.Map.Items() {
		accountHash := ton.Bits256(accBlockKV.Key)
		accBlock := accBlockKV.Value.Value

		for _, txKV := range accBlock.Transactions.Values() {
			txCell := txKV.Value
			tx := txCell.Value

			if !isOrdinary(tx) {
				skipped++
				continue
			}

			info, err := convertTransaction(accountHash, tx)
			if err != nil {
				return nil, skipped, err
			}
			out = append(out, info)
		}
	}

	return out, skipped, nil
}

func isOrdinary(tx tlb.Transaction) bool {
	return tx.Description.SumType == "TransOrd"
}

func convertTransaction(account ton.Bits256, tx tlb.Transaction) (tonmodel.TransactionInfo, error) {
	accountID := ton.AccountID{Workchain: 0, Address: account}

	info := tonmodel.TransactionInfo{
		Account: accountID,
		Lt:      tx.Lt,
		Hash:    ton.Bits256(tx.Hash()),
	}

	if !tx.Msgs.InMsg.Exists {
		return tonmodel.TransactionInfo{}, errs.New(errs.MalformedBlock, "transaction missing in_msg")
	}
	inMsg := tx.Msgs.InMsg.Value.Value
	info.InMsgHash = ton.Bits256(inMsg.Hash(true))
	info.IsFirst = inMsg.Info.SumType == "ExtInMsgInfo"

	for _, outKV := range tx.Msgs.OutMsgs.Values() {
		outMsg := outKV.Value
		out := tonmodel.OutMsgInfo{
			Hash: ton.Bits256(outMsg.Hash(true)),
		}
		if outMsg.Info.SumType == "ExtOutMsgInfo" {
			out.External = true
		} else if outMsg.Info.SumType == "IntMsgInfo" {
			if dest, err := ton.AccountIDFromTlb(outMsg.Info.IntMsgInfo.Dest); err == nil && dest != nil {
				out.Dest = dest
			}
		}
		info.OutMsgs = append(info.OutMsgs, out)
	}

	return info, nil
}
