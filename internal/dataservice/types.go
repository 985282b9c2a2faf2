// Package dataservice implements a root/child-context K/V+queue entity
// store backed by bbolt: one
// embedded database per data-service process, bucketed by entity kind.
package dataservice

import "github.com/cuemby/agentd/internal/ids"

// TxnState is a transaction's position in its lifecycle: submitted,
// promoted, committed, or canceled.
type TxnState uint32

const (
	TxnSubmitted TxnState = iota + 1
	TxnPromoted
	TxnCommitted
	TxnCanceled
)

// BlockNode is a doubly-linked chain node rooted at the root block,
// heights dense and strictly increasing.
type BlockNode struct {
	ID                 ids.BlockID       `json:"id"`
	Prev               ids.BlockID       `json:"prev"`
	Next               ids.BlockID       `json:"next"`
	FirstTransactionID ids.TransactionID `json:"first_transaction_id"`
	Height             ids.Height        `json:"height"`
	Cert               []byte            `json:"cert"`
}

// TransactionNode is a transaction node. Prev/
// Next double as process-queue links while BlockID is zero, and as
// within-block links once the transaction has been canonized.
type TransactionNode struct {
	ID         ids.TransactionID `json:"id"`
	Prev       ids.TransactionID `json:"prev"`
	Next       ids.TransactionID `json:"next"`
	ArtifactID ids.ArtifactID    `json:"artifact_id"`
	BlockID    ids.BlockID       `json:"block_id"`
	State      TxnState          `json:"state"`
	Cert       []byte            `json:"cert"`
}

// ArtifactNode is an artifact node.
type ArtifactNode struct {
	ID          ids.ArtifactID    `json:"id"`
	LatestTxnID ids.TransactionID `json:"latest_txn_id"`
	State       TxnState          `json:"state"`
}
