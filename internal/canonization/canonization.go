// Package canonization implements the periodic block-building state
// machine: on each tick, drain the data service's process queue into a
// new block certificate, commit it, and notify the notification
// service.
package canonization

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/status"
	"github.com/cuemby/agentd/pkg/log"
)

var errNotFound = status.New(status.ServiceData, status.CodeNotFound)

// State names every step of one canonization round.
type State int

const (
	StateIdle State = iota
	StateWaitChildCtx
	StateWaitLatestBlockID
	StateWaitPrevBlock
	StateWaitTxnFirst
	StateWaitTxnNext
	StateBuilding
	StateWaitBlockMake
	StateWaitNotify
	StateWaitChildCtxClose
)

// DataClient is the subset of the data service's method set canonization
// drives, satisfied in-process by *dataservice.RootContext or, across a
// process boundary, by a dispatch-based proxy.
type DataClient interface {
	CreateChild(caps bitcap.Map) (int, error)
	CloseChild(child int) error
	BlockIDLatestRead(child int) (ids.BlockID, error)
	BlockRead(child int, id ids.BlockID, includeCert bool) (dataservice.BlockNode, error)
	TransactionGetFirst(child int) (dataservice.TransactionNode, error)
	TransactionGetNext(child int, id ids.TransactionID) (dataservice.TransactionNode, error)
	BlockMake(child int, id, prevBlockID ids.BlockID, cert []byte, txnIDs []ids.TransactionID) error
}

// NotifyClient is the notification-service call canonization makes once
// a block is committed.
type NotifyClient interface {
	BlockUpdate(conn notification.ConnID, offset uint32, blockID ids.BlockID)
}

// CertBuilder serializes a new block certificate, chained against the
// previous block's own certificate, referencing the collected
// transactions. Certificate content itself is out of scope, so this is
// an injected external dependency.
type CertBuilder interface {
	BuildBlock(blockID, prevBlockID ids.BlockID, prevCert []byte, txnIDs []ids.TransactionID) (cert []byte, err error)
}

// Caps is the reduced bitcap this service requests when it opens its
// data-service child context.
func Caps() bitcap.Map {
	c := dataservice.NewCaps()
	c.Set(dataservice.CapBlockIDLatestRead)
	c.Set(dataservice.CapBlockRead)
	c.Set(dataservice.CapTransactionGetFirst)
	c.Set(dataservice.CapTransactionGetNext)
	c.Set(dataservice.CapBlockMake)
	return c
}

// Service runs the canonization state machine on a timer.
type Service struct {
	data        DataClient
	notify      NotifyClient
	notifyConn  notification.ConnID
	certBuilder CertBuilder
	maxTxns     int
	state       State
	forceExit   bool
}

// NewService builds a canonization Service. maxTxns caps how many
// queued transactions a single round will fold into one block.
func NewService(data DataClient, notify NotifyClient, notifyConn notification.ConnID, certBuilder CertBuilder, maxTxns int) *Service {
	return &Service{data: data, notify: notify, notifyConn: notifyConn, certBuilder: certBuilder, maxTxns: maxTxns, state: StateIdle}
}

// ForceExit records that no further round should start new I/O. The
// caller is expected to have already drained any in-flight reads
// before observing this.
func (s *Service) ForceExit() {
	s.forceExit = true
}

// State reports the state machine's current state, mostly for tests and
// observability.
func (s *Service) State() State {
	return s.state
}

// Run fires one round every interval until ctx is canceled, logging and
// swallowing round failures — a failed round aborts only itself; the
// timer keeps firing regardless.
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
				log.Errorf("canonization round failed", err)
			}
		}
	}
}

// Tick runs exactly one round of the state machine to completion or to
// its first failure: open a child context, read the latest block and
// its certificate, drain the process queue, build and commit a new
// block, then notify.
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

	s.state = StateWaitLatestBlockID
	latestID, err := s.data.BlockIDLatestRead(child)
	if err != nil && !isNotFound(err) {
		return err
	}

	s.state = StateWaitPrevBlock
	var prevCert []byte
	if !latestID.IsZero() {
		prevBlock, err := s.data.BlockRead(child, latestID, true)
		if err != nil {
			return err
		}
		prevCert = prevBlock.Cert
	}

	s.state = StateWaitTxnFirst
	txnIDs, err := s.collectTransactions(child)
	if err != nil {
		return err
	}
	if len(txnIDs) == 0 {
		return nil
	}

	s.state = StateBuilding
	blockID := ids.New()
	cert, err := s.certBuilder.BuildBlock(blockID, latestID, prevCert, txnIDs)
	if err != nil {
		return err
	}

	s.state = StateWaitBlockMake
	if err := s.data.BlockMake(child, blockID, latestID, cert, txnIDs); err != nil {
		return err
	}

	s.state = StateWaitNotify
	s.notify.BlockUpdate(s.notifyConn, notification.CanonizationReservedOffset, blockID)

	return nil
}

func (s *Service) collectTransactions(child int) ([]ids.TransactionID, error) {
	var txnIDs []ids.TransactionID

	first, err := s.data.TransactionGetFirst(child)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	txnIDs = append(txnIDs, first.ID)

	cur := first.ID
	for len(txnIDs) < s.maxTxns {
		s.state = StateWaitTxnNext
		next, err := s.data.TransactionGetNext(child, cur)
		if err != nil {
			if isNotFound(err) {
				break
			}
			return nil, err
		}
		txnIDs = append(txnIDs, next.ID)
		cur = next.ID
	}
	return txnIDs, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
