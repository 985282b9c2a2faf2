// Package fdlayout names the fixed small-integer file descriptor slots
// each private service expects after privsep: the exact numbers are
// stable constants and are part of the ABI between
// supervisor and private entry points. The supervisor remaps whatever
// descriptors it created at fork/exec time onto these slots via
// internal/privsep.RemapDescriptors before calling ExecSelf.
package fdlayout

// Notification service: a log socket plus two client sockets, one per
// consumer role (the canonization service's updates, and the protocol
// service's client-facing assertions).
const (
	NotificationLog     = 3
	NotificationClient1 = 4 // canonization
	NotificationClient2 = 5 // protocol
)

// Attestation service: log, a data-service control socket, and a
// data-service child-context socket.
const (
	AttestationLog     = 3
	AttestationControl = 4
	AttestationData    = 5
)

// Canonization service: log, its data-service child-context socket, and
// its notification-service client socket (no control socket —
// canonization has no configuration phase of its own).
const (
	CanonizationLog          = 3
	CanonizationData         = 4
	CanonizationNotification = 5
)

// Data service: log plus a control socket the supervisor uses to hand
// out child contexts to the other services. Each consumer's own data
// link is appended after these two in spawn order; those slots aren't
// individually named since they're a detail private to the supervisor
// and the data service, not a cross-process ABI commitment like the
// others in this file.
const (
	DataLog     = 3
	DataControl = 4
)

// Auth service: log plus a control socket the supervisor uses once at
// startup to drive AGENT_IDENTITY_SET before any other service depends
// on the auth service's identity.
const (
	AuthLog     = 3
	AuthControl = 4
)

// Unauthorized (pre-handshake) protocol service: the listening socket
// the supervisor dup'd in, a control socket, the data-service child
// socket, a log socket, and the random-service socket used to derive
// handshake nonces.
const (
	ProtocolAccept       = 3
	ProtocolControl      = 4
	ProtocolData         = 5
	ProtocolLog          = 6
	ProtocolRandom       = 7
	ProtocolNotification = 8
)

// Random service: log, plus a client socket for the protocol service's
// handshake-nonce requests (its only consumer; unlike notification this
// service has just the one client, so it gets a single fixed slot
// rather than a numbered set).
const (
	RandomLog    = 3
	RandomClient = 4
)

// Reader/control utility processes used by the CLI's readconfig path.
const (
	ReaderControl = 3
)
