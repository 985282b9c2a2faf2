package main

import (
	"encoding/binary"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

// Data-service method IDs, one per RootContext method a consumer process
// drives across the data-protocol/data-attestation/data-canonization
// sockets.
const (
	methodChildContextCreate dispatch.MethodID = iota
	methodChildContextClose
	methodBlockRead
	methodBlockIDByHeightRead
	methodBlockIDLatestRead
	methodTransactionRead
	methodCanonizedTransactionRead
	methodArtifactRead
	methodTransactionSubmit
	methodTransactionPromote
	methodTransactionDrop
	methodBlockMake
	methodTransactionGetFirst
	methodTransactionGetNext
	methodGlobalSettingsRead
	methodGlobalSettingsWrite
	dataMethodUpperBound
)

func newDataDispatcher(rc *dataservice.RootContext) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(0, dataMethodUpperBound-1)

	d.Register(methodChildContextCreate, func(req dispatch.Request) ([]byte, status.Code) {
		caps := decodeCaps(req.Body)
		child, err := rc.CreateChild(caps)
		if err != nil {
			return nil, codeOf(err)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(child))
		return buf, status.Success
	})

	d.Register(methodChildContextClose, func(req dispatch.Request) ([]byte, status.Code) {
		if err := rc.CloseChild(decodeChild(req.Body)); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	d.Register(methodBlockIDLatestRead, func(req dispatch.Request) ([]byte, status.Code) {
		id, err := rc.BlockIDLatestRead(decodeChild(req.Body))
		if err != nil {
			return nil, codeOf(err)
		}
		return id.Bytes(), status.Success
	})

	d.Register(methodBlockIDByHeightRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 8 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		height := ids.Height(binary.BigEndian.Uint64(rest))
		id, err := rc.BlockIDByHeightRead(child, height)
		if err != nil {
			return nil, codeOf(err)
		}
		return id.Bytes(), status.Success
	})

	d.Register(methodBlockRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 17 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		id := ids.FromBytes(rest[0:16])
		includeCert := rest[16] != 0
		node, err := rc.BlockRead(child, id, includeCert)
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeBlockNode(node), status.Success
	})

	d.Register(methodTransactionRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 17 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		id := ids.FromBytes(rest[0:16])
		node, err := rc.TransactionRead(child, id, rest[16] != 0)
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeTransactionNode(node), status.Success
	})

	d.Register(methodCanonizedTransactionRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 17 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		id := ids.FromBytes(rest[0:16])
		node, err := rc.CanonizedTransactionRead(child, id, rest[16] != 0)
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeTransactionNode(node), status.Success
	})

	d.Register(methodArtifactRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		node, err := rc.ArtifactRead(child, ids.FromBytes(rest[0:16]))
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeArtifactNode(node), status.Success
	})

	d.Register(methodTransactionSubmit, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 32 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		id := ids.FromBytes(rest[0:16])
		artifactID := ids.FromBytes(rest[16:32])
		cert := append([]byte(nil), rest[32:]...)
		if err := rc.TransactionSubmit(child, id, artifactID, cert); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	d.Register(methodTransactionPromote, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		if err := rc.TransactionPromote(child, ids.FromBytes(rest[0:16])); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	d.Register(methodTransactionDrop, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		if err := rc.TransactionDrop(child, ids.FromBytes(rest[0:16])); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	d.Register(methodBlockMake, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 36 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		id := ids.FromBytes(rest[0:16])
		prev := ids.FromBytes(rest[16:32])
		txnCount := binary.BigEndian.Uint32(rest[32:36])
		off := 36
		txnIDs := make([]ids.TransactionID, 0, txnCount)
		for i := uint32(0); i < txnCount; i++ {
			if len(rest) < off+16 {
				return nil, status.CodeRequestPacketInvalidSize
			}
			txnIDs = append(txnIDs, ids.FromBytes(rest[off:off+16]))
			off += 16
		}
		cert := append([]byte(nil), rest[off:]...)
		if err := rc.BlockMake(child, id, prev, cert, txnIDs); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	d.Register(methodTransactionGetFirst, func(req dispatch.Request) ([]byte, status.Code) {
		node, err := rc.TransactionGetFirst(decodeChild(req.Body))
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeTransactionNode(node), status.Success
	})

	d.Register(methodTransactionGetNext, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		node, err := rc.TransactionGetNext(child, ids.FromBytes(rest[0:16]))
		if err != nil {
			return nil, codeOf(err)
		}
		return encodeTransactionNode(node), status.Success
	})

	d.Register(methodGlobalSettingsRead, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 8 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		value, err := rc.GlobalSettingsRead(child, binary.BigEndian.Uint64(rest[0:8]))
		if err != nil {
			return nil, codeOf(err)
		}
		return value, status.Success
	})

	d.Register(methodGlobalSettingsWrite, func(req dispatch.Request) ([]byte, status.Code) {
		child, rest := splitChild(req.Body)
		if len(rest) < 8 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		key := binary.BigEndian.Uint64(rest[0:8])
		value := append([]byte(nil), rest[8:]...)
		if err := rc.GlobalSettingsWrite(child, key, value); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})

	return d
}

func decodeChild(body []byte) int {
	if len(body) < 4 {
		return -1
	}
	return int(int32(binary.BigEndian.Uint32(body)))
}

func splitChild(body []byte) (int, []byte) {
	if len(body) < 4 {
		return -1, nil
	}
	return decodeChild(body[0:4]), body[4:]
}

func encodeChild(child int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(child)))
	return buf
}

func encodeBlockNode(n dataservice.BlockNode) []byte {
	buf := make([]byte, 0, 64+len(n.Cert))
	buf = append(buf, n.ID.Bytes()...)
	buf = append(buf, n.Prev.Bytes()...)
	buf = append(buf, n.Next.Bytes()...)
	buf = append(buf, n.FirstTransactionID.Bytes()...)
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(n.Height))
	buf = append(buf, heightBuf[:]...)
	return append(buf, n.Cert...)
}

func decodeBlockNode(buf []byte) (dataservice.BlockNode, error) {
	if len(buf) < 72 {
		return dataservice.BlockNode{}, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	return dataservice.BlockNode{
		ID:                 ids.FromBytes(buf[0:16]),
		Prev:               ids.FromBytes(buf[16:32]),
		Next:               ids.FromBytes(buf[32:48]),
		FirstTransactionID: ids.FromBytes(buf[48:64]),
		Height:             ids.Height(binary.BigEndian.Uint64(buf[64:72])),
		Cert:               append([]byte(nil), buf[72:]...),
	}, nil
}

func encodeTransactionNode(n dataservice.TransactionNode) []byte {
	buf := make([]byte, 0, 68+len(n.Cert))
	buf = append(buf, n.ID.Bytes()...)
	buf = append(buf, n.Prev.Bytes()...)
	buf = append(buf, n.Next.Bytes()...)
	buf = append(buf, n.ArtifactID.Bytes()...)
	buf = append(buf, n.BlockID.Bytes()...)
	var stateBuf [4]byte
	binary.BigEndian.PutUint32(stateBuf[:], uint32(n.State))
	buf = append(buf, stateBuf[:]...)
	return append(buf, n.Cert...)
}

func decodeTransactionNode(buf []byte) (dataservice.TransactionNode, error) {
	if len(buf) < 84 {
		return dataservice.TransactionNode{}, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	return dataservice.TransactionNode{
		ID:         ids.FromBytes(buf[0:16]),
		Prev:       ids.FromBytes(buf[16:32]),
		Next:       ids.FromBytes(buf[32:48]),
		ArtifactID: ids.FromBytes(buf[48:64]),
		BlockID:    ids.FromBytes(buf[64:80]),
		State:      dataservice.TxnState(binary.BigEndian.Uint32(buf[80:84])),
		Cert:       append([]byte(nil), buf[84:]...),
	}, nil
}

func encodeArtifactNode(n dataservice.ArtifactNode) []byte {
	buf := make([]byte, 0, 36)
	buf = append(buf, n.ID.Bytes()...)
	buf = append(buf, n.LatestTxnID.Bytes()...)
	var stateBuf [4]byte
	binary.BigEndian.PutUint32(stateBuf[:], uint32(n.State))
	return append(buf, stateBuf[:]...)
}

func decodeArtifactNode(buf []byte) (dataservice.ArtifactNode, error) {
	if len(buf) < 36 {
		return dataservice.ArtifactNode{}, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	return dataservice.ArtifactNode{
		ID:          ids.FromBytes(buf[0:16]),
		LatestTxnID: ids.FromBytes(buf[16:32]),
		State:       dataservice.TxnState(binary.BigEndian.Uint32(buf[32:36])),
	}, nil
}

// encodeCaps/decodeCaps serialize a bitcap.Map as one byte per bit,
// since bitcap.Map exposes no raw word accessor and its width is always
// known statically on both ends from the consumer's own Caps() function
// (canonization.Caps, attestation.Caps, protocol.Caps all build on
// dataservice.NewCaps's fixed width).
func encodeCaps(caps bitcap.Map) []byte {
	buf := make([]byte, caps.Width())
	for i := 0; i < caps.Width(); i++ {
		if caps.Test(i) {
			buf[i] = 1
		}
	}
	return buf
}

func decodeCaps(buf []byte) bitcap.Map {
	caps := dataservice.NewCaps()
	for i := 0; i < len(buf) && i < caps.Width(); i++ {
		if buf[i] != 0 {
			caps.Set(i)
		}
	}
	return caps
}

func codeOf(err error) status.Code {
	if st, ok := err.(*status.Status); ok {
		return st.Code
	}
	return status.CodeUnspecifiedFailure
}

func errFromCall(resp dispatch.Response, callErr error) error {
	if callErr != nil {
		return callErr
	}
	if resp.Status != status.Success {
		return status.New(status.ServiceData, resp.Status)
	}
	return nil
}
