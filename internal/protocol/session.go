package protocol

import (
	"encoding/binary"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/status"
)

// DataClient is the subset of the data service's method set the protocol
// service drives on behalf of an authorized client, satisfied
// in-process by *dataservice.RootContext.
type DataClient interface {
	BlockIDLatestRead(child int) (ids.BlockID, error)
	BlockRead(child int, id ids.BlockID, includeCert bool) (dataservice.BlockNode, error)
	BlockIDByHeightRead(child int, height ids.Height) (ids.BlockID, error)
	TransactionRead(child int, id ids.TransactionID, includeCert bool) (dataservice.TransactionNode, error)
	ArtifactRead(child int, id ids.ArtifactID) (dataservice.ArtifactNode, error)
	TransactionSubmit(child int, id ids.TransactionID, artifactID ids.ArtifactID, cert []byte) error
	GlobalSettingsRead(child int, key uint64) ([]byte, error)
	GlobalSettingsWrite(child int, key uint64, value []byte) error
}

// NotifyClient is the subset of the notification service a client
// session drives for the two assertion verbs.
type NotifyClient interface {
	BlockAssertion(conn notification.ConnID, offset uint32, blockID ids.BlockID)
	BlockAssertionCancel(conn notification.ConnID, offset uint32)
}

// Caps is the reduced bitcap a protocol-service connection's data-service
// child context requests: every client-facing read plus transaction
// submission, but never the canonization/attestation-only write methods.
func Caps() bitcap.Map {
	c := dataservice.NewCaps()
	c.Set(dataservice.CapBlockRead)
	c.Set(dataservice.CapBlockIDByHeightRead)
	c.Set(dataservice.CapBlockIDLatestRead)
	c.Set(dataservice.CapTransactionRead)
	c.Set(dataservice.CapCanonizedTransactionRead)
	c.Set(dataservice.CapArtifactRead)
	c.Set(dataservice.CapTransactionSubmit)
	c.Set(dataservice.CapGlobalSettingsRead)
	c.Set(dataservice.CapGlobalSettingsWrite)
	return c
}

// Session holds one authorized client connection's state: which entity
// it authenticated as, its data-service child context, its notification
// connection id, and the shared authorization table and extended-API
// registry.
type Session struct {
	Entity     ids.EntityID
	child      int
	notifyConn notification.ConnID
	table      *capability.Table
	data       DataClient
	notify     NotifyClient
	extended   *ExtendedAPIRegistry
	forward    Forwarder
}

// NewSession builds a Session for an already-authorized entity.
// forward is this connection's own Forwarder, used to deliver
// extended-API requests/responses it receives while acting as a
// provider or a requester.
func NewSession(entity ids.EntityID, child int, notifyConn notification.ConnID, table *capability.Table, data DataClient, notify NotifyClient, extended *ExtendedAPIRegistry, forward Forwarder) *Session {
	return &Session{
		Entity:     entity,
		child:      child,
		notifyConn: notifyConn,
		table:      table,
		data:       data,
		notify:     notify,
		extended:   extended,
		forward:    forward,
	}
}

// Authorize reports whether entity is in the authorized-entity table.
// Callers close the connection with UNAUTHORIZED when this is false.
func Authorize(table *capability.Table, entity ids.EntityID) bool {
	return table.IsAuthorizedEntity(entity)
}

// Handle dispatches one decoded ClientRequest to its verb's handler,
// after checking the (subject, verb, object) capability triple.
// The two assertion verbs have no synchronous response:
// their acknowledgment arrives later through the notification service's
// Responder, asynchronously with respect to this call, so Handle returns
// ok == false for them and the caller emits nothing itself.
func (s *Session) Handle(req ClientRequest) (resp ClientResponse, ok bool) {
	if !s.table.Allowed(s.Entity, req.Verb, req.Object) {
		return ClientResponse{Offset: req.Offset, Status: status.CodeUnauthorized}, true
	}

	switch req.Verb {
	case capability.VerbLatestBlockIDRead:
		return s.handleLatestBlockIDRead(req), true
	case capability.VerbBlockRead:
		return s.handleBlockRead(req), true
	case capability.VerbBlockIDByHeightRead:
		return s.handleBlockIDByHeightRead(req), true
	case capability.VerbTransactionRead:
		return s.handleTransactionRead(req), true
	case capability.VerbArtifactRead:
		return s.handleArtifactRead(req), true
	case capability.VerbTransactionSubmit:
		return s.handleTransactionSubmit(req), true
	case capability.VerbGlobalSettingsRead:
		return s.handleGlobalSettingsRead(req), true
	case capability.VerbGlobalSettingsWrite:
		return s.handleGlobalSettingsWrite(req), true

	case capability.VerbAssertLatestBlockID:
		s.notify.BlockAssertion(s.notifyConn, req.Offset, req.Object)
		return ClientResponse{}, false
	case capability.VerbCancelAssertion:
		s.notify.BlockAssertionCancel(s.notifyConn, req.Offset)
		return ClientResponse{}, false

	case capability.VerbExtendedAPIEnable:
		s.extended.Enable(s.Entity, s.forward)
		return ClientResponse{Offset: req.Offset, Status: status.Success}, true
	case capability.VerbExtendedAPISend:
		return s.handleExtendedAPISend(req), true
	case capability.VerbExtendedAPIRespond:
		return s.handleExtendedAPIRespond(req), true
	case capability.VerbExtendedAPIReceive:
		// Providers learn of inbound requests via Forwarder.DeliverExtendedAPIRequest
		// rather than by polling, so this verb carries no further state here.
		return ClientResponse{Offset: req.Offset, Status: status.Success}, true
	default:
		return ClientResponse{Offset: req.Offset, Status: status.CodeInvalidRequestID}, true
	}
}

func (s *Session) handleLatestBlockIDRead(req ClientRequest) ClientResponse {
	id, err := s.data.BlockIDLatestRead(s.child)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: id.Bytes()}
}

func (s *Session) handleBlockRead(req ClientRequest) ClientResponse {
	if len(req.Params) < 16 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	id := ids.FromBytes(req.Params[0:16])
	node, err := s.data.BlockRead(s.child, id, true)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: node.Cert}
}

func (s *Session) handleBlockIDByHeightRead(req ClientRequest) ClientResponse {
	if len(req.Params) < 8 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	height := ids.Height(binary.BigEndian.Uint64(req.Params))
	id, err := s.data.BlockIDByHeightRead(s.child, height)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: id.Bytes()}
}

func (s *Session) handleTransactionRead(req ClientRequest) ClientResponse {
	if len(req.Params) < 16 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	id := ids.FromBytes(req.Params[0:16])
	node, err := s.data.TransactionRead(s.child, id, true)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: node.Cert}
}

func (s *Session) handleArtifactRead(req ClientRequest) ClientResponse {
	if len(req.Params) < 16 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	id := ids.FromBytes(req.Params[0:16])
	node, err := s.data.ArtifactRead(s.child, id)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: node.LatestTxnID.Bytes()}
}

func (s *Session) handleTransactionSubmit(req ClientRequest) ClientResponse {
	if len(req.Params) < 16 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	artifactID := ids.FromBytes(req.Params[0:16])
	cert := req.Params[16:]
	txnID := ids.New()
	if err := s.data.TransactionSubmit(s.child, txnID, artifactID, cert); err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: txnID.Bytes()}
}

func (s *Session) handleGlobalSettingsRead(req ClientRequest) ClientResponse {
	if len(req.Params) < 8 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	key := binary.BigEndian.Uint64(req.Params[0:8])
	value, err := s.data.GlobalSettingsRead(s.child, key)
	if err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success, Payload: value}
}

func (s *Session) handleGlobalSettingsWrite(req ClientRequest) ClientResponse {
	if len(req.Params) < 8 {
		return ClientResponse{Offset: req.Offset, Status: status.CodeRequestPacketInvalidSize}
	}
	key := binary.BigEndian.Uint64(req.Params[0:8])
	value := req.Params[8:]
	if err := s.data.GlobalSettingsWrite(s.child, key, value); err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success}
}

func (s *Session) handleExtendedAPISend(req ClientRequest) ClientResponse {
	if err := s.extended.Send(req.Offset, req.Object, s.Entity, req.Params, s.forward); err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success}
}

func (s *Session) handleExtendedAPIRespond(req ClientRequest) ClientResponse {
	if err := s.extended.Respond(req.Offset, req.Params); err != nil {
		return errResponse(req.Offset, err)
	}
	return ClientResponse{Offset: req.Offset, Status: status.Success}
}

func errResponse(offset uint32, err error) ClientResponse {
	if st, ok := err.(*status.Status); ok {
		return ClientResponse{Offset: offset, Status: st.Code}
	}
	return ClientResponse{Offset: offset, Status: status.CodeUnspecifiedFailure}
}
