// Package emulate reconstructs trace trees from a masterchain seqno's
// parsed transactions and completes the tree's unobserved hops by
// invoking the VM. It corresponds to McBlockEmulator (the per-seqno
// trace-membership assignment pass) and TraceTailEmulator (the
// recursive tree builder for one trace).
package emulate

import (
	"sort"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/logger"
	"github.com/greymass/traceindex/internal/tonmodel"
)

// InterblockTraceIDs carries trace membership across masterchain seqno
// boundaries: an out-msg hash observed at seqno N that is not resolved
// within N is remembered here so seqno N+1 can attach the child
// transaction to the right trace. Single-writer: the McBlockEmulator
// owns it for the process lifetime.
type InterblockTraceIDs struct {
	byMsgHash map[ton.Bits256]ton.Bits256
}

func NewInterblockTraceIDs() *InterblockTraceIDs {
	return &InterblockTraceIDs{byMsgHash: make(map[ton.Bits256]ton.Bits256)}
}

func (t *InterblockTraceIDs) Get(msgHash ton.Bits256) (ton.Bits256, bool) {
	id, ok := t.byMsgHash[msgHash]
	return id, ok
}

func (t *InterblockTraceIDs) Set(msgHash, traceID ton.Bits256) {
	t.byMsgHash[msgHash] = traceID
}

// Delete drops an entry once its child transaction has been observed,
// keeping the map bounded to genuinely still-pending cross-block hops.
func (t *InterblockTraceIDs) Delete(msgHash ton.Bits256) {
	delete(t.byMsgHash, msgHash)
}

// McBlockEmulator assigns every transaction of one masterchain seqno to
// a trace id and collects one root per distinct trace id observed in
// that seqno; the caller builds each root's tree with a
// TraceTailEmulator.
type McBlockEmulator struct {
	interblock *InterblockTraceIDs
	tail       *TraceTailEmulator
}

func NewMcBlockEmulator(interblock *InterblockTraceIDs, tail *TraceTailEmulator) *McBlockEmulator {
	return &McBlockEmulator{interblock: interblock, tail: tail}
}

// AssignedSeqno is the outcome of assigning trace membership within one
// seqno: the roots ready to hand to TraceTailEmulator, plus the orphan
// count for the caller's warning log.
type AssignedSeqno struct {
	Roots       []tonmodel.TransactionInfo
	ByInMsgHash map[ton.Bits256]tonmodel.TransactionInfo
	Orphans     int
}

// Assign implements the McBlockEmulator trace-membership algorithm:
// sort by lt, compute each transaction's initial_msg_hash, and
// propagate it to dependents via by_out_msg and interblock_trace_ids.
func (m *McBlockEmulator) Assign(txs []tonmodel.TransactionInfo) AssignedSeqno {
	sorted := make([]tonmodel.TransactionInfo, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lt < sorted[j].Lt })

	byOutMsg := make(map[ton.Bits256]*tonmodel.TransactionInfo, len(sorted))
	byInMsg := make(map[ton.Bits256]tonmodel.TransactionInfo, len(sorted))

	orphans := 0
	rootSet := make(map[ton.Bits256]bool)
	var roots []tonmodel.TransactionInfo

	for i := range sorted {
		tx := &sorted[i]

		switch {
		case tx.IsFirst:
			tx.InitialMsgHash, tx.HasInitialHash = tx.InMsgHash, true
		default:
			if parent, ok := byOutMsg[tx.InMsgHash]; ok && parent.HasInitialHash {
				tx.InitialMsgHash, tx.HasInitialHash = parent.InitialMsgHash, true
				m.interblock.Delete(tx.InMsgHash)
			} else if id, ok := m.interblock.Get(tx.InMsgHash); ok {
				tx.InitialMsgHash, tx.HasInitialHash = id, true
				m.interblock.Delete(tx.InMsgHash)
			}
		}

		if !tx.HasInitialHash {
			orphans++
			logger.Printf("emulate", "orphan transaction account=%x lt=%d in_msg=%x", tx.Account.Address, tx.Lt, tx.InMsgHash)
			continue
		}

		for j := range tx.OutMsgs {
			out := &tx.OutMsgs[j]
			if out.External {
				continue
			}
			byOutMsg[out.Hash] = tx
			m.interblock.Set(out.Hash, tx.InitialMsgHash)
		}

		byInMsg[tx.InMsgHash] = *tx

		// First transaction of this trace id seen in this seqno, in lt
		// order: either the trace's genuine root (is_first) or the
		// transaction that continues it into a new masterchain seqno
		// after an interblock hop. Either way, TraceTailEmulator needs
		// it as a starting point for this seqno's tree.
		if !rootSet[tx.InitialMsgHash] {
			rootSet[tx.InitialMsgHash] = true
			roots = append(roots, *tx)
		}
	}

	return AssignedSeqno{Roots: roots, ByInMsgHash: byInMsg, Orphans: orphans}
}
