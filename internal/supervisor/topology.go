package supervisor

import "os"

// DataControlInit drives the one-time control handshake over the data
// service's control socket after spawn: root context init, then caps
// reduced once to the union every consumer's own child-context request
// could ever legitimately ask for. internal/supervisor doesn't
// know the data service's wire format; it only sequences when the
// caller gets a chance to drive it, over the socket it already created.
type DataControlInit func(ctrl *os.File) error

// ProtocolControlConfig drives the protocol service's own control
// handshake after spawn: add the private key, add entities, add
// capability triples, then finalize.
type ProtocolControlConfig func(ctrl *os.File) error

// AuthControlInit drives the one-shot AGENT_IDENTITY_SET call over the
// auth service's control socket, before any other step that might need
// the node's identity.
type AuthControlInit func(ctrl *os.File) error

// Tree is every process Start spawns, in startup order.
type Tree struct {
	Random       *Child
	Auth         *Child
	Data         *Child
	Notification *Child
	Attestation  *Child
	Canonization *Child
	Protocol     *Child
}

// All returns every spawned child in startup order.
func (t *Tree) All() []*Child {
	return []*Child{t.Random, t.Auth, t.Data, t.Notification, t.Attestation, t.Canonization, t.Protocol}
}

// Start sequences the node's five startup steps. A single
// data-service process serves all three consumers through its own
// child-context capability reduction (internal/dataservice's
// RootContext/ChildContext model) — "data(×N — one per consumer)"
// names the number of child contexts handed out, not a process count,
// since the data service's state (block list, process queue) is one
// bbolt store a single process owns. Every inter-service socket (e.g.
// attestation's data link) is a direct socketpair between the two
// consumer processes: the supervisor hands each end to its process at
// spawn time and keeps neither, except the log and control links it
// drives itself.
func Start(sup *Supervisor, listenSocket *os.File, configureAuth AuthControlInit, configureData DataControlInit, configureProtocol ProtocolControlConfig) (*Tree, error) {
	tree := &Tree{}

	// Step 1: random, auth, data, notification.
	randomLog, randomLogRemote, err := Socketpair("random-log")
	if err != nil {
		return nil, err
	}
	randomSideOfProtoLink, protocolSideOfRandomLink, err := Socketpair("random-client")
	if err != nil {
		return nil, err
	}
	tree.Random, err = sup.Spawn(KindRandom, 0,
		[]*os.File{randomLogRemote, randomSideOfProtoLink},
		[]Link{{Name: "log", File: randomLog}})
	if err != nil {
		return nil, err
	}

	authLog, authLogRemote, err := Socketpair("auth-log")
	if err != nil {
		return nil, err
	}
	authControl, authControlRemote, err := Socketpair("auth-control")
	if err != nil {
		return nil, err
	}
	tree.Auth, err = sup.Spawn(KindAuth, 0,
		[]*os.File{authLogRemote, authControlRemote},
		[]Link{{Name: "log", File: authLog}, {Name: "control", File: authControl}})
	if err != nil {
		return nil, err
	}
	if configureAuth != nil {
		if err := configureAuth(authControl); err != nil {
			return nil, err
		}
	}

	dataLog, dataLogRemote, err := Socketpair("data-log")
	if err != nil {
		return nil, err
	}
	dataControl, dataControlRemote, err := Socketpair("data-control")
	if err != nil {
		return nil, err
	}
	// One direct link per consumer (attestation, canonization, protocol);
	// the data-service side goes in the data process's ExtraFiles now,
	// the consumer side is held until that consumer is spawned below.
	dataSideOfAttestationLink, attestationSideOfDataLink, err := Socketpair("data-attestation")
	if err != nil {
		return nil, err
	}
	dataSideOfCanonizationLink, canonizationSideOfDataLink, err := Socketpair("data-canonization")
	if err != nil {
		return nil, err
	}
	dataSideOfProtocolLink, protocolSideOfDataLink, err := Socketpair("data-protocol")
	if err != nil {
		return nil, err
	}
	tree.Data, err = sup.Spawn(KindData, 0,
		[]*os.File{dataLogRemote, dataControlRemote, dataSideOfAttestationLink, dataSideOfCanonizationLink, dataSideOfProtocolLink},
		[]Link{{Name: "log", File: dataLog}, {Name: "control", File: dataControl}})
	if err != nil {
		return nil, err
	}

	notifLog, notifLogRemote, err := Socketpair("notification-log")
	if err != nil {
		return nil, err
	}
	notifSideOfCanonizationLink, canonizationSideOfNotifLink, err := Socketpair("notification-client1")
	if err != nil {
		return nil, err
	}
	notifSideOfProtocolLink, protocolSideOfNotifLink, err := Socketpair("notification-client2")
	if err != nil {
		return nil, err
	}
	tree.Notification, err = sup.Spawn(KindNotification, 0,
		[]*os.File{notifLogRemote, notifSideOfCanonizationLink, notifSideOfProtocolLink},
		[]Link{{Name: "log", File: notifLog}})
	if err != nil {
		return nil, err
	}

	// Step 2: configure the data service's consumer child contexts.
	if configureData != nil {
		if err := configureData(dataControl); err != nil {
			return nil, err
		}
	}

	// Step 3: attestation (data only), canonization (data + notification).
	attestationLog, attestationLogRemote, err := Socketpair("attestation-log")
	if err != nil {
		return nil, err
	}
	attestationControl, attestationControlRemote, err := Socketpair("attestation-control")
	if err != nil {
		return nil, err
	}
	tree.Attestation, err = sup.Spawn(KindAttestation, 0,
		[]*os.File{attestationLogRemote, attestationControlRemote, attestationSideOfDataLink},
		[]Link{{Name: "log", File: attestationLog}, {Name: "control", File: attestationControl}})
	if err != nil {
		return nil, err
	}

	canonizationLog, canonizationLogRemote, err := Socketpair("canonization-log")
	if err != nil {
		return nil, err
	}
	tree.Canonization, err = sup.Spawn(KindCanonization, 0,
		[]*os.File{canonizationLogRemote, canonizationSideOfDataLink, canonizationSideOfNotifLink},
		[]Link{{Name: "log", File: canonizationLog}})
	if err != nil {
		return nil, err
	}

	// Step 4: protocol (accept, control, data, log, random).
	protocolControl, protocolControlRemote, err := Socketpair("protocol-control")
	if err != nil {
		return nil, err
	}
	protocolLog, protocolLogRemote, err := Socketpair("protocol-log")
	if err != nil {
		return nil, err
	}
	tree.Protocol, err = sup.Spawn(KindProtocol, 0,
		[]*os.File{listenSocket, protocolControlRemote, protocolSideOfDataLink, protocolLogRemote, protocolSideOfRandomLink, protocolSideOfNotifLink},
		[]Link{{Name: "control", File: protocolControl}, {Name: "log", File: protocolLog}})
	if err != nil {
		return nil, err
	}

	// Step 5: configure protocol's control socket.
	if configureProtocol != nil {
		if err := configureProtocol(protocolControl); err != nil {
			return nil, err
		}
	}

	return tree, nil
}
