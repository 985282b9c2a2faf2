package main

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
)

// dataServiceClient drives a data-service child context over one
// consumer socket (data-attestation, data-canonization, or
// data-protocol). It satisfies canonization.DataClient,
// attestation.DataClient, and protocol.DataClient structurally — each
// names the subset of these methods that consumer actually calls.
type dataServiceClient struct {
	c *dispatch.Client
}

func newDataServiceClient(conn io.ReadWriter) *dataServiceClient {
	return &dataServiceClient{c: dispatch.NewClient(conn)}
}

func (d *dataServiceClient) CreateChild(caps bitcap.Map) (int, error) {
	resp, err := d.c.Call(methodChildContextCreate, encodeCaps(caps))
	if err := errFromCall(resp, err); err != nil {
		return 0, err
	}
	return decodeChild(resp.Payload), nil
}

func (d *dataServiceClient) CloseChild(child int) error {
	resp, err := d.c.Call(methodChildContextClose, encodeChild(child))
	return errFromCall(resp, err)
}

func (d *dataServiceClient) BlockIDLatestRead(child int) (ids.BlockID, error) {
	resp, err := d.c.Call(methodBlockIDLatestRead, encodeChild(child))
	if err := errFromCall(resp, err); err != nil {
		return ids.Zero, err
	}
	return ids.FromBytes(resp.Payload), nil
}

func (d *dataServiceClient) BlockIDByHeightRead(child int, height ids.Height) (ids.BlockID, error) {
	body := append(encodeChild(child), encodeHeight(height)...)
	resp, err := d.c.Call(methodBlockIDByHeightRead, body)
	if err := errFromCall(resp, err); err != nil {
		return ids.Zero, err
	}
	return ids.FromBytes(resp.Payload), nil
}

func (d *dataServiceClient) BlockRead(child int, id ids.BlockID, includeCert bool) (dataservice.BlockNode, error) {
	body := append(encodeChild(child), append(id.Bytes(), boolByte(includeCert))...)
	resp, err := d.c.Call(methodBlockRead, body)
	if err := errFromCall(resp, err); err != nil {
		return dataservice.BlockNode{}, err
	}
	return decodeBlockNode(resp.Payload)
}

func (d *dataServiceClient) TransactionRead(child int, id ids.TransactionID, includeCert bool) (dataservice.TransactionNode, error) {
	body := append(encodeChild(child), append(id.Bytes(), boolByte(includeCert))...)
	resp, err := d.c.Call(methodTransactionRead, body)
	if err := errFromCall(resp, err); err != nil {
		return dataservice.TransactionNode{}, err
	}
	return decodeTransactionNode(resp.Payload)
}

func (d *dataServiceClient) CanonizedTransactionRead(child int, id ids.TransactionID, includeCert bool) (dataservice.TransactionNode, error) {
	body := append(encodeChild(child), append(id.Bytes(), boolByte(includeCert))...)
	resp, err := d.c.Call(methodCanonizedTransactionRead, body)
	if err := errFromCall(resp, err); err != nil {
		return dataservice.TransactionNode{}, err
	}
	return decodeTransactionNode(resp.Payload)
}

func (d *dataServiceClient) ArtifactRead(child int, id ids.ArtifactID) (dataservice.ArtifactNode, error) {
	body := append(encodeChild(child), id.Bytes()...)
	resp, err := d.c.Call(methodArtifactRead, body)
	if err := errFromCall(resp, err); err != nil {
		return dataservice.ArtifactNode{}, err
	}
	return decodeArtifactNode(resp.Payload)
}

func (d *dataServiceClient) TransactionSubmit(child int, id ids.TransactionID, artifactID ids.ArtifactID, cert []byte) error {
	body := append(encodeChild(child), append(append(id.Bytes(), artifactID.Bytes()...), cert...)...)
	resp, err := d.c.Call(methodTransactionSubmit, body)
	return errFromCall(resp, err)
}

func (d *dataServiceClient) TransactionPromote(child int, id ids.TransactionID) error {
	body := append(encodeChild(child), id.Bytes()...)
	resp, err := d.c.Call(methodTransactionPromote, body)
	return errFromCall(resp, err)
}

func (d *dataServiceClient) TransactionDrop(child int, id ids.TransactionID) error {
	body := append(encodeChild(child), id.Bytes()...)
	resp, err := d.c.Call(methodTransactionDrop, body)
	return errFromCall(resp, err)
}

func (d *dataServiceClient) BlockMake(child int, id, prevBlockID ids.BlockID, cert []byte, txnIDs []ids.TransactionID) error {
	body := encodeChild(child)
	body = append(body, id.Bytes()...)
	body = append(body, prevBlockID.Bytes()...)
	body = append(body, encodeUint32(uint32(len(txnIDs)))...)
	for _, txnID := range txnIDs {
		body = append(body, txnID.Bytes()...)
	}
	body = append(body, cert...)
	resp, err := d.c.Call(methodBlockMake, body)
	return errFromCall(resp, err)
}

func (d *dataServiceClient) TransactionGetFirst(child int) (dataservice.TransactionNode, error) {
	resp, err := d.c.Call(methodTransactionGetFirst, encodeChild(child))
	if err := errFromCall(resp, err); err != nil {
		return dataservice.TransactionNode{}, err
	}
	return decodeTransactionNode(resp.Payload)
}

func (d *dataServiceClient) TransactionGetNext(child int, id ids.TransactionID) (dataservice.TransactionNode, error) {
	body := append(encodeChild(child), id.Bytes()...)
	resp, err := d.c.Call(methodTransactionGetNext, body)
	if err := errFromCall(resp, err); err != nil {
		return dataservice.TransactionNode{}, err
	}
	return decodeTransactionNode(resp.Payload)
}

func (d *dataServiceClient) GlobalSettingsRead(child int, key uint64) ([]byte, error) {
	body := append(encodeChild(child), encodeSettingsKey(key)...)
	resp, err := d.c.Call(methodGlobalSettingsRead, body)
	if err := errFromCall(resp, err); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (d *dataServiceClient) GlobalSettingsWrite(child int, key uint64, value []byte) error {
	body := append(encodeChild(child), append(encodeSettingsKey(key), value...)...)
	resp, err := d.c.Call(methodGlobalSettingsWrite, body)
	return errFromCall(resp, err)
}

func encodeSettingsKey(key uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func encodeHeight(h ids.Height) []byte {
	v := uint64(h)
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
