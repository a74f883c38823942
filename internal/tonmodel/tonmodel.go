// Package tonmodel defines the entity types the pipeline passes between
// stages: parsed block data, transaction and message records, trace
// trees, and the classified interface records attached to them.
//
// Address and hash fields use tongo's fixed-width types throughout
// (ton.AccountID, ton.Bits256) rather than hex strings; hex only
// appears at the stream-cache and analytical-store I/O boundaries.
package tonmodel

import (
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// MasterchainBlockDataState is the unit of work the scheduler drives
// through the pipeline: one masterchain seqno's block plus every shard
// block it references.
type MasterchainBlockDataState struct {
	Seqno           uint32
	MasterchainRoot *boc.Cell
	ShardBlocks     []ton.BlockIDExt
	ShardBlocksDiff []ton.BlockIDExt
	ShardRoots      []*boc.Cell
	Config          tlb.ConfigParams
	ShardStates     map[ton.AccountID]tlb.ShardAccount
}

// OutMsgInfo is a retained outbound message; external-out messages are
// kept here (for persistence) but excluded from trace linkage by the
// trace reconstruction pass.
type OutMsgInfo struct {
	Hash     ton.Bits256
	Root     *boc.Cell
	External bool
	Dest     *ton.AccountID
}

// TransactionInfo is a decoded transaction with enough information to
// place it both in the analytical store and in a trace tree.
type TransactionInfo struct {
	Account   ton.AccountID
	Lt        uint64
	Hash      ton.Bits256
	Root      *boc.Cell
	InMsgHash ton.Bits256
	IsFirst   bool
	OutMsgs   []OutMsgInfo

	// InitialMsgHash is the trace id this transaction belongs to, set
	// by trace reconstruction. HasInitialHash reports whether it has
	// been assigned.
	InitialMsgHash ton.Bits256
	HasInitialHash bool
}

// TraceNode is one node of a reconstructed trace tree.
type TraceNode struct {
	NodeID          ton.Bits256
	TransactionRoot *boc.Cell
	Account         ton.AccountID
	Lt              uint64
	Emulated        bool
	Children        []*TraceNode
}

// InterfaceKind tags the fixed set of contract classifications this
// pipeline detects.
type InterfaceKind int

const (
	InterfaceJettonMaster InterfaceKind = iota
	InterfaceJettonWallet
	InterfaceNftCollection
	InterfaceNftItem
)

func (k InterfaceKind) String() string {
	switch k {
	case InterfaceJettonMaster:
		return "jetton_master"
	case InterfaceJettonWallet:
		return "jetton_wallet"
	case InterfaceNftCollection:
		return "nft_collection"
	case InterfaceNftItem:
		return "nft_item"
	default:
		return "unknown"
	}
}

// JettonMasterData is the decoded result of get_jetton_data.
type JettonMasterData struct {
	TotalSupply       tlb.Int257
	Mintable          bool
	AdminAddress      *ton.AccountID
	Content           map[string]string
	JettonWalletCode  *boc.Cell
}

// JettonWalletData is the decoded result of get_wallet_data, plus the
// cross-verification outcome against its master.
type JettonWalletData struct {
	Balance              tlb.Int257
	Owner                ton.AccountID
	Jetton               ton.AccountID
	JettonWalletCode     *boc.Cell
	MasterVerified       bool
	ProvisionallyCached  bool
}

// NftCollectionData is the decoded result of get_collection_data.
type NftCollectionData struct {
	NextItemIndex int64
	Content       map[string]string
	OwnerAddress  *ton.AccountID
}

// NftItemData is the decoded result of get_nft_data, plus cross-
// verification against its collection.
type NftItemData struct {
	Initialized      bool
	Index             int64
	CollectionAddress *ton.AccountID
	OwnerAddress      *ton.AccountID
	Content           map[string]string
	CollectionVerified bool
}

// InterfaceRecord is one classified entity attached to an address
// within a trace: exactly one of the *Data fields is populated,
// selected by Kind.
type InterfaceRecord struct {
	Account           ton.AccountID
	Kind              InterfaceKind
	CodeHash          ton.Bits256
	DataHash          ton.Bits256
	LastTransactionLt uint64

	JettonMaster  *JettonMasterData
	JettonWallet  *JettonWalletData
	NftCollection *NftCollectionData
	NftItem       *NftItemData
}

// InterfaceSet is the per-trace collection of classified interfaces,
// keyed by address.
type InterfaceSet map[ton.AccountID][]InterfaceRecord

// Trace is the tree of transactions induced by a single externally
// originated message.
type Trace struct {
	ID               ton.Bits256
	Root             *TraceNode
	EmulatedAccounts map[ton.AccountID][]tlb.ShardAccount
	Interfaces       InterfaceSet
}

// QueueState is the four admission-control counters the scheduler and
// insert manager both read and mutate.
type QueueState struct {
	McBlocks int64
	Blocks   int64
	Txs      int64
	Msgs     int64
}

func (q QueueState) Add(other QueueState) QueueState {
	return QueueState{
		McBlocks: q.McBlocks + other.McBlocks,
		Blocks:   q.Blocks + other.Blocks,
		Txs:      q.Txs + other.Txs,
		Msgs:     q.Msgs + other.Msgs,
	}
}

func (q QueueState) Sub(other QueueState) QueueState {
	return QueueState{
		McBlocks: q.McBlocks - other.McBlocks,
		Blocks:   q.Blocks - other.Blocks,
		Txs:      q.Txs - other.Txs,
		Msgs:     q.Msgs - other.Msgs,
	}
}

// Exceeds reports whether any counter in q is at or above the matching
// cap in caps — the scheduler's admission rule requires being strictly
// below every cap.
func (q QueueState) Exceeds(caps QueueState) bool {
	return q.McBlocks >= caps.McBlocks ||
		q.Blocks >= caps.Blocks ||
		q.Txs >= caps.Txs ||
		q.Msgs >= caps.Msgs
}

// ParsedBlock is the output of the block parser for one masterchain
// seqno: every shard block's transactions, ready for trace
// reconstruction and for the insert manager.
type ParsedBlock struct {
	Seqno        uint32
	Transactions []TransactionInfo
}

func (p ParsedBlock) QueueContribution() QueueState {
	msgs := int64(0)
	for _, tx := range p.Transactions {
		msgs += int64(len(tx.OutMsgs)) + 1
	}
	return QueueState{
		McBlocks: 1,
		Blocks:   1,
		Txs:      int64(len(p.Transactions)),
		Msgs:     msgs,
	}
}
