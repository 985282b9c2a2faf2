package dataservice

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

// TransactionRead returns any transaction regardless of its queue/block
// position.
func (rc *RootContext) TransactionRead(child int, id ids.TransactionID, includeCert bool) (TransactionNode, error) {
	if err := rc.checkCap(child, CapTransactionRead); err != nil {
		return TransactionNode{}, err
	}
	return rc.readTransaction(id, includeCert)
}

// CanonizedTransactionRead returns a transaction only if it has already
// been committed into a block.
func (rc *RootContext) CanonizedTransactionRead(child int, id ids.TransactionID, includeCert bool) (TransactionNode, error) {
	if err := rc.checkCap(child, CapCanonizedTransactionRead); err != nil {
		return TransactionNode{}, err
	}
	node, err := rc.readTransaction(id, includeCert)
	if err != nil {
		return TransactionNode{}, err
	}
	if node.State != TxnCommitted {
		return TransactionNode{}, notFound()
	}
	return node, nil
}

func (rc *RootContext) readTransaction(id ids.TransactionID, includeCert bool) (TransactionNode, error) {
	var node TransactionNode
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketTransactions), id.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found {
			return notFound()
		}
		return nil
	})
	if err != nil {
		return TransactionNode{}, err
	}
	if !includeCert {
		node.Cert = nil
	}
	return node, nil
}

// ArtifactRead returns the latest-transaction pointer for an artifact.
func (rc *RootContext) ArtifactRead(child int, id ids.ArtifactID) (ArtifactNode, error) {
	if err := rc.checkCap(child, CapArtifactRead); err != nil {
		return ArtifactNode{}, err
	}

	var node ArtifactNode
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketArtifacts), id.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found {
			return notFound()
		}
		return nil
	})
	return node, err
}

func settingsKey(key uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], key)
	return b[:]
}

// GlobalSettingsRead looks up a 64-bit-keyed settings value.
func (rc *RootContext) GlobalSettingsRead(child int, key uint64) ([]byte, error) {
	if err := rc.checkCap(child, CapGlobalSettingsRead); err != nil {
		return nil, err
	}

	var value []byte
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSettings).Get(settingsKey(key))
		if raw == nil {
			return notFound()
		}
		value = append([]byte(nil), raw...)
		return nil
	})
	return value, err
}

// GlobalSettingsWrite sets a 64-bit-keyed settings value.
func (rc *RootContext) GlobalSettingsWrite(child int, key uint64, value []byte) error {
	if err := rc.checkCap(child, CapGlobalSettingsWrite); err != nil {
		return err
	}
	return rc.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(settingsKey(key), value)
	})
}

// TransactionSubmit appends a new transaction to the tail of the process
// queue in state submitted, and records the artifact's latest pointer.
func (rc *RootContext) TransactionSubmit(child int, id ids.TransactionID, artifactID ids.ArtifactID, cert []byte) error {
	if err := rc.checkCap(child, CapTransactionSubmit); err != nil {
		return err
	}

	return rc.store.db.Update(func(tx *bolt.Tx) error {
		txns := tx.Bucket(bucketTransactions)
		settings := tx.Bucket(bucketSettings)
		artifacts := tx.Bucket(bucketArtifacts)

		if has, _ := bucketHas(txns, id.Bytes()); has {
			return status.New(status.ServiceData, status.CodeInvariantViolation)
		}

		node := TransactionNode{ID: id, ArtifactID: artifactID, State: TxnSubmitted, Cert: cert}
		if err := appendToQueue(txns, settings, &node); err != nil {
			return err
		}

		artifact := ArtifactNode{ID: artifactID, LatestTxnID: id, State: TxnSubmitted}
		return putJSON(artifacts, artifactID.Bytes(), &artifact)
	})
}

// TransactionPromote advances a submitted queue transaction to promoted,
// leaving its queue position untouched.
func (rc *RootContext) TransactionPromote(child int, id ids.TransactionID) error {
	if err := rc.checkCap(child, CapTransactionPromote); err != nil {
		return err
	}
	return rc.store.db.Update(func(tx *bolt.Tx) error {
		txns := tx.Bucket(bucketTransactions)
		var node TransactionNode
		found, err := getJSON(txns, id.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found || !node.BlockID.IsZero() {
			return notFound()
		}
		node.State = TxnPromoted
		return putJSON(txns, id.Bytes(), &node)
	})
}

// TransactionDrop removes a queue transaction without canonizing it.
func (rc *RootContext) TransactionDrop(child int, id ids.TransactionID) error {
	if err := rc.checkCap(child, CapTransactionDrop); err != nil {
		return err
	}
	return rc.store.db.Update(func(tx *bolt.Tx) error {
		txns := tx.Bucket(bucketTransactions)
		settings := tx.Bucket(bucketSettings)

		var node TransactionNode
		found, err := getJSON(txns, id.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found || !node.BlockID.IsZero() {
			return notFound()
		}
		if err := unlinkFromQueue(txns, settings, node); err != nil {
			return err
		}
		node.State = TxnCanceled
		return putJSON(txns, id.Bytes(), &node)
	})
}

// TransactionGetFirst returns the transaction currently at the head of
// the process queue.
func (rc *RootContext) TransactionGetFirst(child int) (TransactionNode, error) {
	if err := rc.checkCap(child, CapTransactionGetFirst); err != nil {
		return TransactionNode{}, err
	}

	var node TransactionNode
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		head := getID(tx.Bucket(bucketSettings), settingsKeyQueueHead)
		if head.IsZero() {
			return notFound()
		}
		found, err := getJSON(tx.Bucket(bucketTransactions), head.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found {
			return notFound()
		}
		return nil
	})
	return node, err
}

// TransactionGetNext returns the queue transaction immediately following
// id, for walking the process queue forward from TransactionGetFirst.
func (rc *RootContext) TransactionGetNext(child int, id ids.TransactionID) (TransactionNode, error) {
	if err := rc.checkCap(child, CapTransactionGetNext); err != nil {
		return TransactionNode{}, err
	}

	var node TransactionNode
	err := rc.store.db.View(func(tx *bolt.Tx) error {
		txns := tx.Bucket(bucketTransactions)
		var cur TransactionNode
		found, err := getJSON(txns, id.Bytes(), &cur)
		if err != nil {
			return err
		}
		if !found || cur.Next.IsZero() {
			return notFound()
		}
		found, err = getJSON(txns, cur.Next.Bytes(), &node)
		if err != nil {
			return err
		}
		if !found {
			return notFound()
		}
		return nil
	})
	return node, err
}

// appendToQueue links node onto the tail of the process queue.
func appendToQueue(txns, settings *bolt.Bucket, node *TransactionNode) error {
	tail := getID(settings, settingsKeyQueueTail)
	node.Prev = tail
	node.Next = ids.Zero

	if err := putJSON(txns, node.ID.Bytes(), node); err != nil {
		return err
	}

	if tail.IsZero() {
		if err := putID(settings, settingsKeyQueueHead, node.ID); err != nil {
			return err
		}
	} else {
		var prevNode TransactionNode
		if found, err := getJSON(txns, tail.Bytes(), &prevNode); err != nil {
			return err
		} else if found {
			prevNode.Next = node.ID
			if err := putJSON(txns, tail.Bytes(), &prevNode); err != nil {
				return err
			}
		}
	}
	return putID(settings, settingsKeyQueueTail, node.ID)
}

// unlinkFromQueue splices node out of the process queue's doubly-linked
// chain, updating the head/tail pointers and its neighbors.
func unlinkFromQueue(txns, settings *bolt.Bucket, node TransactionNode) error {
	if !node.Prev.IsZero() {
		var prevNode TransactionNode
		if found, err := getJSON(txns, node.Prev.Bytes(), &prevNode); err != nil {
			return err
		} else if found {
			prevNode.Next = node.Next
			if err := putJSON(txns, node.Prev.Bytes(), &prevNode); err != nil {
				return err
			}
		}
	} else {
		if err := putID(settings, settingsKeyQueueHead, node.Next); err != nil {
			return err
		}
	}

	if !node.Next.IsZero() {
		var nextNode TransactionNode
		if found, err := getJSON(txns, node.Next.Bytes(), &nextNode); err != nil {
			return err
		} else if found {
			nextNode.Prev = node.Prev
			if err := putJSON(txns, node.Next.Bytes(), &nextNode); err != nil {
				return err
			}
		}
	} else {
		if err := putID(settings, settingsKeyQueueTail, node.Prev); err != nil {
			return err
		}
	}
	return nil
}
