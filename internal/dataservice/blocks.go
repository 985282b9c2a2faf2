package dataservice

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

// BlockRead returns a block node, optionally with its certificate bytes
// stripped to save bandwidth when includeCert is false.
func (rc *RootContext) BlockRead(child int, id ids.BlockID, includeCert bool) (BlockNode, error) {
	if err := rc.checkCap(child, CapBlockRead); err != nil {
		return BlockNode{}, err
	}

	var node BlockNode
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketBlocks), id.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found {
			return notFound()
		}
		return nil
	})
	if err != nil {
		return BlockNode{}, err
	}
	if !includeCert {
		node.Cert = nil
	}
	return node, nil
}

// BlockIDByHeightRead walks the block chain from the latest block back
// to the requested height. Heights are dense, so this is O(distance).
func (rc *RootContext) BlockIDByHeightRead(child int, height ids.Height) (ids.BlockID, error) {
	if err := rc.checkCap(child, CapBlockIDByHeightRead); err != nil {
		return ids.Zero, err
	}

	var result ids.BlockID
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		settings := tx.Bucket(bucketSettings)

		cur := getID(settings, settingsKeyLatestBlockID)
		if cur.IsZero() {
			return notFound()
		}

		var node BlockNode
		for {
			found, err := getJSON(blocks, cur.Bytes(), &node)
			if err != nil {
				return err
			}
			if !found {
				return notFound()
			}
			if node.Height == height {
				result = node.ID
				return nil
			}
			if node.Height < height || node.Prev.IsZero() {
				return notFound()
			}
			cur = node.Prev
		}
	})
	return result, err
}

// BlockIDLatestRead returns the current chain tip's id.
func (rc *RootContext) BlockIDLatestRead(child int) (ids.BlockID, error) {
	if err := rc.checkCap(child, CapBlockIDLatestRead); err != nil {
		return ids.Zero, err
	}

	var result ids.BlockID
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		result = getID(tx.Bucket(bucketSettings), settingsKeyLatestBlockID)
		return nil
	})
	return result, err
}

// BlockMake performs the atomic canonization write inside one bbolt
// transaction: any precondition failure rolls the entire write back.
func (rc *RootContext) BlockMake(child int, id ids.BlockID, prevBlockID ids.BlockID, cert []byte, txnIDs []ids.TransactionID) error {
	if err := rc.checkCap(child, CapBlockMake); err != nil {
		return err
	}
	if id.IsZero() || len(txnIDs) == 0 {
		return status.New(status.ServiceData, status.CodeRequestPacketBad)
	}

	return rc.store.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		txns := tx.Bucket(bucketTransactions)
		artifacts := tx.Bucket(bucketArtifacts)
		settings := tx.Bucket(bucketSettings)

		// Step 2: preconditions.
		latestID := getID(settings, settingsKeyLatestBlockID)
		var height ids.Height
		if !latestID.IsZero() {
			var latest BlockNode
			if found, err := getJSON(blocks, latestID.Bytes(), &latest); err != nil {
				return err
			} else if !found {
				return notFound()
			} else {
				height = latest.Height + 1
			}
		}
		if latestID != prevBlockID {
			return status.New(status.ServiceData, status.CodeBlockHeightMismatch)
		}
		if exists, err := bucketHas(blocks, id.Bytes()); err != nil {
			return err
		} else if exists {
			return status.New(status.ServiceData, status.CodeBlockAlreadyExists)
		}

		// Step 3: move each referenced queue transaction into the block.
		var prevInBlock ids.TransactionID
		first := ids.Zero
		for _, txnID := range txnIDs {
			var node TransactionNode
			found, err := getJSON(txns, txnID.Bytes(), &node)
			if err != nil {
				return err
			}
			if !found || !node.BlockID.IsZero() {
				return status.New(status.ServiceData, status.CodeBlockMakeChildTransactionFailure)
			}

			if err := unlinkFromQueue(txns, settings, node); err != nil {
				return err
			}

			node.BlockID = id
			node.State = TxnCommitted
			node.Prev = prevInBlock
			node.Next = ids.Zero
			if err := putJSON(txns, txnID.Bytes(), &node); err != nil {
				return err
			}
			if !prevInBlock.IsZero() {
				var prevNode TransactionNode
				if _, err := getJSON(txns, prevInBlock.Bytes(), &prevNode); err != nil {
					return err
				}
				prevNode.Next = txnID
				if err := putJSON(txns, prevInBlock.Bytes(), &prevNode); err != nil {
					return err
				}
			} else {
				first = txnID
			}
			prevInBlock = txnID

			var artifact ArtifactNode
			if found, err := getJSON(artifacts, node.ArtifactID.Bytes(), &artifact); err != nil {
				return err
			} else if found {
				artifact.LatestTxnID = txnID
				artifact.State = TxnCommitted
				if err := putJSON(artifacts, node.ArtifactID.Bytes(), &artifact); err != nil {
					return err
				}
			}
		}

		// Step 4: insert the block, advance the chain tip.
		block := BlockNode{ID: id, Prev: prevBlockID, Height: height, FirstTransactionID: first, Cert: cert}
		if !prevBlockID.IsZero() {
			var prev BlockNode
			if found, err := getJSON(blocks, prevBlockID.Bytes(), &prev); err != nil {
				return err
			} else if found {
				prev.Next = id
				if err := putJSON(blocks, prevBlockID.Bytes(), &prev); err != nil {
					return err
				}
			}
		}
		if err := putJSON(blocks, id.Bytes(), &block); err != nil {
			return err
		}
		return putID(settings, settingsKeyLatestBlockID, id)
	})
}

func bucketHas(b *bolt.Bucket, key []byte) (bool, error) {
	return b.Get(key) != nil, nil
}
