package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cuemby/agentd/internal/attestation"
	"github.com/cuemby/agentd/internal/authservice"
	"github.com/cuemby/agentd/internal/canonization"
	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/config"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/fdlayout"
	"github.com/cuemby/agentd/internal/fiber"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/privsep"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/randomservice"
	"github.com/cuemby/agentd/internal/scope"
	"github.com/cuemby/agentd/internal/status"
	"github.com/cuemby/agentd/internal/supervisor"
	"github.com/cuemby/agentd/pkg/log"
)

// runPrivate is the single entry point every re-exec'd private process
// takes: on the first exec (run==false) it is
// still fully privileged and holds its inherited descriptors at
// whatever fds cmd.ExtraFiles placed them (sequentially from 3, per
// internal/supervisor.Spawn's doc comment); it performs the privilege
// drop and hands off to the second exec (run==true), which is the
// unprivileged, chrooted process that actually runs the service.
func runPrivate(kindName string, run bool, extra []string) int {
	kind, ok := parseKind(kindName)
	if !ok {
		fmt.Fprintf(os.Stderr, "agentd: unknown private entry point %q\n", kindName)
		return status.New(status.ServiceProcess, status.CodeExecFailure).ExitCode()
	}

	if !run {
		if err := runPrivsepPhase(kind); err != nil {
			fmt.Fprintf(os.Stderr, "agentd: %s: privsep: %v\n", kind, err)
			return exitCode(err)
		}
		// ExecSelf only returns on failure.
		return exitCode(status.New(status.ServiceProcess, status.CodeExecFailure))
	}

	if err := runService(kind, extra); err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %s: %v\n", kind, err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var s *status.Status
	if errors.As(err, &s) {
		return s.ExitCode()
	}
	return 1
}

func parseKind(name string) (supervisor.Kind, bool) {
	for _, k := range []supervisor.Kind{
		supervisor.KindRandom, supervisor.KindAuth, supervisor.KindData,
		supervisor.KindNotification, supervisor.KindAttestation,
		supervisor.KindCanonization, supervisor.KindProtocol,
	} {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// fdCount is how many descriptors each kind inherits via ExtraFiles, in
// internal/supervisor/topology.go's Spawn order, landing at fds 3..3+n-1.
func fdCount(kind supervisor.Kind) int {
	switch kind {
	case supervisor.KindRandom:
		return 2
	case supervisor.KindAuth:
		return 2
	case supervisor.KindData:
		return 5
	case supervisor.KindNotification:
		return 3
	case supervisor.KindAttestation:
		return 3
	case supervisor.KindCanonization:
		return 3
	case supervisor.KindProtocol:
		return 6
	default:
		return 0
	}
}

// runPrivsepPhase drops privileges — chroot, setgid/setuid, descriptor
// cleanup — then re-execs into the unprivileged phase. It re-reads the resolved config
// (via the env vars runStart set before spawning, since the spawned
// process inherits its parent's environment up to this exact point) to
// learn the chroot target and user:group, and to compute whatever
// scalar config values the post-privsep phase needs but can no longer
// read off disk itself, once its environment is wiped.
func runPrivsepPhase(kind supervisor.Kind) error {
	configFile := os.Getenv(envConfigFile)
	prefixDir := os.Getenv(envPrefixDir)
	agentCfg, err := config.Load(configFile, prefixDir)
	if err != nil {
		return err
	}

	creds, err := privsep.LookupUserGroup(agentCfg.UserGroup)
	if err != nil {
		return err
	}
	if err := privsep.Chroot(agentCfg.Chroot); err != nil {
		return err
	}
	if err := privsep.DropPrivileges(creds); err != nil {
		return err
	}

	n := fdCount(kind)
	pairs := make([]privsep.FDPair, n)
	for i := 0; i < n; i++ {
		pairs[i] = privsep.FDPair{Current: 3 + i, Desired: 3 + i}
	}
	if _, err := privsep.RemapDescriptors(pairs); err != nil {
		return err
	}
	privsep.CloseStdio()
	privsep.CloseAbove(2+n, 2+n+64)

	extraArgs := []string{"-run"}
	switch kind {
	case supervisor.KindData:
		extraArgs = append(extraArgs, "-datastore", agentCfg.Datastore, "-dbmaxsize", strconv.FormatInt(agentCfg.DatabaseMaxSize, 10))
	case supervisor.KindAttestation:
		extraArgs = append(extraArgs, "-blockms", strconv.FormatInt(agentCfg.BlockMaxMilliseconds, 10))
	case supervisor.KindCanonization:
		secret, err := os.ReadFile(agentCfg.Secret)
		if err != nil {
			return status.Wrap(status.ServiceConfig, status.CodeNotFound, err)
		}
		extraArgs = append(extraArgs,
			"-blockms", strconv.FormatInt(agentCfg.BlockMaxMilliseconds, 10),
			"-maxtxns", strconv.Itoa(agentCfg.BlockMaxTransactions),
			"-secrethex", hex.EncodeToString(secret))
	}

	return privsep.ExecSelf(kind.String(), extraArgs)
}

// argValue scans a flat "-flag value -flag value" argv for flag's value.
func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// runService is the post-privsep phase: open this kind's fixed fdlayout
// descriptors and run the service loop forever.
func runService(kind supervisor.Kind, extra []string) error {
	switch kind {
	case supervisor.KindRandom:
		return runRandomService()
	case supervisor.KindAuth:
		return runAuthService()
	case supervisor.KindData:
		return runDataService(extra)
	case supervisor.KindNotification:
		return runNotificationService()
	case supervisor.KindAttestation:
		return runAttestationService(extra)
	case supervisor.KindCanonization:
		return runCanonizationService(extra)
	case supervisor.KindProtocol:
		return runProtocolService()
	default:
		return status.New(status.ServiceProcess, status.CodeExecFailure)
	}
}

func fdFile(slot int, name string) *os.File {
	return os.NewFile(uintptr(slot), name)
}

func cancelOnSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func runRandomService() error {
	client := fdFile(fdlayout.RandomClient, "random-client")
	svc := randomservice.NewService()
	log.Info("random service ready")
	return dispatch.Serve(client, newRandomDispatcher(svc))
}

func runAuthService() error {
	control := fdFile(fdlayout.AuthControl, "auth-control")
	svc := authservice.NewService()
	log.Info("auth service ready")
	return dispatch.Serve(control, newAuthDispatcher(svc))
}

func runDataService(extra []string) (err error) {
	control := fdFile(fdlayout.DataControl, "data-control")
	datastore := argValue(extra, "-datastore")
	maxSize, _ := strconv.ParseInt(argValue(extra, "-dbmaxsize"), 10, 64)

	g := scope.New()
	defer func() { err = g.Run(err) }()

	store, err := dataservice.Open(datastore, maxSize)
	if err != nil {
		return err
	}
	g.Defer(store.Close)
	rc := dataservice.NewRootContext(store)

	errCh := make(chan error, 4)
	go func() { errCh <- dispatch.Serve(control, newDataControlDispatcher(rc)) }()

	// Three unnamed consumer links (attestation, canonization, protocol)
	// land right after DataControl in the same order topology.go's
	// Start spawns them.
	for i, name := range []string{"data-attestation", "data-canonization", "data-protocol"} {
		conn := fdFile(fdlayout.DataControl+1+i, name)
		go func() { errCh <- dispatch.Serve(conn, newDataDispatcher(rc)) }()
	}

	log.Info("data service ready")
	return <-errCh
}

func runNotificationService() error {
	client1 := fdFile(fdlayout.NotificationClient1, "notification-client1")
	client2 := fdFile(fdlayout.NotificationClient2, "notification-client2")

	responder := newNotificationResponder()
	responder.Register(notification.ConnID(1), client1)
	responder.Register(notification.ConnID(2), client2)
	svc := notification.NewService(responder)

	errCh := make(chan error, 2)
	go func() { errCh <- serveNotificationConn(svc, notification.ConnID(1), client1) }()
	go func() { errCh <- serveNotificationConn(svc, notification.ConnID(2), client2) }()

	log.Info("notification service ready")
	return <-errCh
}

func runAttestationService(extra []string) error {
	data := fdFile(fdlayout.AttestationData, "attestation-data")
	blockMS, _ := strconv.ParseInt(argValue(extra, "-blockms"), 10, 64)

	dataClient := newDataServiceClient(data)
	verifier := newTransactionCertVerifier()
	svc := attestation.NewService(dataClient, verifier)

	log.Info("attestation service ready")
	svc.Run(cancelOnSignal(), (&config.Agent{BlockMaxMilliseconds: blockMS}).BlockMaxInterval())
	return nil
}

func runCanonizationService(extra []string) error {
	data := fdFile(fdlayout.CanonizationData, "canonization-data")
	notif := fdFile(fdlayout.CanonizationNotification, "canonization-notification")

	blockMS, _ := strconv.ParseInt(argValue(extra, "-blockms"), 10, 64)
	maxTxns, _ := strconv.Atoi(argValue(extra, "-maxtxns"))
	secret, err := hex.DecodeString(argValue(extra, "-secrethex"))
	if err != nil {
		return status.Wrap(status.ServiceConfig, status.CodeRequestPacketBad, err)
	}

	dataClient := newDataServiceClient(data)
	notifyClient := newNotificationClient(notif, func(error) {})
	go func() { _ = ReadLoop(notif, func(NotificationReply) {}) }()

	certBuilder := newBlockCertBuilder(secret)
	svc := canonization.NewService(dataClient, notifyClient, notification.ConnID(1), certBuilder, maxTxns)

	log.Info("canonization service ready")
	svc.Run(cancelOnSignal(), (&config.Agent{BlockMaxMilliseconds: blockMS}).BlockMaxInterval())
	return nil
}

func runProtocolService() error {
	accept := fdFile(fdlayout.ProtocolAccept, "protocol-accept")
	control := fdFile(fdlayout.ProtocolControl, "protocol-control")
	data := fdFile(fdlayout.ProtocolData, "protocol-data")
	random := fdFile(fdlayout.ProtocolRandom, "protocol-random")
	notif := fdFile(fdlayout.ProtocolNotification, "protocol-notification")

	ln, err := net.FileListener(accept)
	if err != nil {
		return status.Wrap(status.ServiceListen, status.CodeUnspecifiedFailure, err)
	}

	ctrl := protocol.NewControl(capability.NewTable())
	go func() { _ = dispatch.Serve(control, newProtocolControlDispatcher(ctrl)) }()

	dataClient := newDataServiceClient(data)
	randomClient := newRandomServiceClient(random)

	notifyClient := newNotificationClient(notif, func(error) {})
	router := newProtocolNotifyRouter(notifyClient, notification.ConnID(2))
	go func() { _ = router.Run(notif) }()

	deps := protocolDeps{
		control:  ctrl,
		data:     dataClient,
		notify:   router,
		random:   randomClient,
		extended: protocol.NewExtendedAPIRegistry(),
	}

	// A dedicated OS thread owns signal delivery for this service, so
	// fibers are never interrupted by a signal directly: it quiesces
	// the scheduler, which in turn closes the listener so the accept
	// loop below winds down once every in-flight connection fiber
	// finishes on its own.
	sched := fiber.NewScheduler()
	sigThread := fiber.NewSignalThread(sched)
	go sigThread.Run()
	go func() {
		<-sched.Done()
		_ = ln.Close()
	}()

	log.Info("protocol service ready")
	err = serveProtocolListener(ln, deps, sched)
	sched.Wait()
	if sched.Quiescing() {
		return nil
	}
	return err
}
