// Package attestation implements the process-queue promotion loop: walk
// the submitted transactions in queue order and promote each one whose
// certificate the external verifier accepts, leaving rejected and
// unverifiable transactions in place for a later round.
package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
	"github.com/cuemby/agentd/pkg/log"
)

var errNotFound = status.New(status.ServiceData, status.CodeNotFound)

// State names each step of one attestation round: the same
// capability-gated request/response pattern as canonization, but
// simpler since there is no block to build.
type State int

const (
	StateIdle State = iota
	StateWaitChildCtx
	StateWaitTxnFirst
	StateWaitTxnNext
	StateWaitPromote
	StateWaitChildCtxClose
)

// DataClient is the subset of the data service's method set attestation
// drives, satisfied in-process by *dataservice.RootContext.
type DataClient interface {
	CreateChild(caps bitcap.Map) (int, error)
	CloseChild(child int) error
	BlockRead(child int, id ids.BlockID, includeCert bool) (dataservice.BlockNode, error)
	TransactionRead(child int, id ids.TransactionID, includeCert bool) (dataservice.TransactionNode, error)
	ArtifactRead(child int, id ids.ArtifactID) (dataservice.ArtifactNode, error)
	TransactionGetFirst(child int) (dataservice.TransactionNode, error)
	TransactionGetNext(child int, id ids.TransactionID) (dataservice.TransactionNode, error)
	TransactionPromote(child int, id ids.TransactionID) error
	TransactionDrop(child int, id ids.TransactionID) error
}

// CertVerifier checks a transaction's certificate against whatever
// signature scheme the caller's entity keys use. Certificate validation
// itself is out of scope, so this is an injected external dependency
// rather than an implementation.
type CertVerifier interface {
	VerifyTransaction(node dataservice.TransactionNode) (bool, error)
}

// Caps is the reduced bitcap this service requests when it opens its
// data-service child context: child-context lifecycle, read access to
// blocks/transactions/artifacts, and process-queue walk, promote and
// drop.
func Caps() bitcap.Map {
	c := dataservice.NewCaps()
	c.Set(dataservice.CapChildContextCreate)
	c.Set(dataservice.CapChildContextClose)
	c.Set(dataservice.CapBlockRead)
	c.Set(dataservice.CapTransactionRead)
	c.Set(dataservice.CapArtifactRead)
	c.Set(dataservice.CapTransactionGetFirst)
	c.Set(dataservice.CapTransactionGetNext)
	c.Set(dataservice.CapTransactionPromote)
	c.Set(dataservice.CapTransactionDrop)
	return c
}

// Service runs the attestation loop on a timer, independently of
// canonization's own timer: attestation and canonization are started as
// separate children of the same data service instance.
type Service struct {
	data      DataClient
	verifier  CertVerifier
	state     State
	forceExit bool
}

// NewService builds an attestation Service.
func NewService(data DataClient, verifier CertVerifier) *Service {
	return &Service{data: data, verifier: verifier, state: StateIdle}
}

// ForceExit records that no further round should start new I/O.
func (s *Service) ForceExit() {
	s.forceExit = true
}

// State reports the state machine's current state.
func (s *Service) State() State {
	return s.state
}

// Run fires one round every interval until ctx is canceled, logging and
// swallowing round failures so the timer keeps firing regardless,
// mirroring canonization's Run.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.forceExit {
				return
			}
			if err := s.Tick(); err != nil {
				log.Errorf("attestation round failed", err)
			}
		}
	}
}

// Tick walks the process queue once from head to tail, promoting every
// submitted transaction whose certificate verifies and leaving every
// other transaction (already promoted, or rejected) untouched.
func (s *Service) Tick() error {
	if s.forceExit {
		return nil
	}

	s.state = StateWaitChildCtx
	child, err := s.data.CreateChild(Caps())
	if err != nil {
		s.state = StateIdle
		return err
	}
	defer func() {
		s.state = StateWaitChildCtxClose
		_ = s.data.CloseChild(child)
		s.state = StateIdle
	}()

	s.state = StateWaitTxnFirst
	node, err := s.data.TransactionGetFirst(child)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	for {
		if node.State == dataservice.TxnSubmitted {
			ok, err := s.verifier.VerifyTransaction(node)
			if err != nil {
				return err
			}
			if ok {
				s.state = StateWaitPromote
				if err := s.data.TransactionPromote(child, node.ID); err != nil {
					return err
				}
			}
		}

		s.state = StateWaitTxnNext
		next, err := s.data.TransactionGetNext(child, node.ID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		node = next
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
