package main

import (
	"io"

	"github.com/cuemby/agentd/internal/attestation"
	"github.com/cuemby/agentd/internal/canonization"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/status"
)

// methodRootContextReduceCaps is the data-control socket's only verb:
// narrow the root context's capability set
// once, to the union of whatever any consumer's own child-context
// request could ever legitimately ask for. Each consumer still reduces
// further against this root when it calls CHILD_CONTEXT_CREATE over its
// own socket (cmd/agentd/dataservice_rpc.go); this call only bounds the
// ceiling.
const methodRootContextReduceCaps dispatch.MethodID = 0

func newDataControlDispatcher(rc *dataservice.RootContext) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(methodRootContextReduceCaps, methodRootContextReduceCaps)
	d.Register(methodRootContextReduceCaps, func(req dispatch.Request) ([]byte, status.Code) {
		rc.ReduceCapsRoot(decodeCaps(req.Body))
		return nil, status.Success
	})
	return d
}

// configureDataControl drives ROOT_CONTEXT_REDUCE_CAPS over the data
// service's control socket, narrowing root to exactly the union of the
// three consumer-specific capability sets. Wired as the supervisor's
// DataControlInit hook.
func configureDataControl(ctrl io.ReadWriter) error {
	union := attestation.Caps().Union(canonization.Caps()).Union(protocol.Caps())
	if err := dispatch.WriteMessage(ctrl, dispatch.EncodeRequest(dispatch.Request{MethodID: methodRootContextReduceCaps, Body: encodeCaps(union)})); err != nil {
		return err
	}
	buf, err := dispatch.ReadMessage(ctrl)
	if err != nil {
		return err
	}
	resp, err := dispatch.DecodeResponse(buf)
	if err != nil {
		return err
	}
	if resp.Status != status.Success {
		return status.New(status.ServiceData, resp.Status)
	}
	return nil
}
