package main

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
)

// blockCertBuilder and transactionCertVerifier are the injected
// implementations canonization.CertBuilder and attestation.CertVerifier
// require. Certificate content itself is out of scope: a block
// certificate here is an HMAC over the block's identity and membership
// under the node's own signing key, not a scheme any external party
// verifies, and transaction certificate validation is left to whatever
// an entity's submission already carries — this node's attestation step
// only rejects the degenerate empty case.
type blockCertBuilder struct {
	key []byte
}

func newBlockCertBuilder(key []byte) blockCertBuilder {
	return blockCertBuilder{key: key}
}

func (b blockCertBuilder) BuildBlock(blockID, prevBlockID ids.BlockID, prevCert []byte, txnIDs []ids.TransactionID) ([]byte, error) {
	mac := hmac.New(sha256.New, b.key)
	mac.Write(blockID.Bytes())
	mac.Write(prevBlockID.Bytes())
	mac.Write(prevCert)
	for _, txnID := range txnIDs {
		mac.Write(txnID.Bytes())
	}
	return mac.Sum(nil), nil
}

type transactionCertVerifier struct{}

func newTransactionCertVerifier() transactionCertVerifier {
	return transactionCertVerifier{}
}

func (transactionCertVerifier) VerifyTransaction(node dataservice.TransactionNode) (bool, error) {
	return len(node.Cert) > 0, nil
}
