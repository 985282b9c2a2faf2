package protocol

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cuemby/agentd/internal/authpacket"
	"github.com/cuemby/agentd/internal/status"
	"golang.org/x/crypto/hkdf"
)

// NonceSize is the length of each side's handshake nonce, exchanged
// before the key agreement step.
const NonceSize = 16

var errHandshake = status.New(status.ServiceProtocol, status.CodeAuthenticationFailure)

// GenerateEphemeralKey produces a fresh X25519 key pair for one
// handshake. Key agreement is Diffie-Hellman over Curve25519; no pack
// dependency implements raw key agreement (only TLS-level wrappers), so
// this narrow primitive is stdlib crypto/ecdh, matching
// internal/authpacket's precedent of using stdlib for a primitive no
// example repo wraps.
func GenerateEphemeralKey() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, status.Wrap(status.ServiceProtocol, status.CodeAuthenticationFailure, err)
	}
	return priv, nil
}

// NewNonce draws a fresh handshake nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, status.Wrap(status.ServiceProtocol, status.CodeAuthenticationFailure, err)
	}
	return nonce, nil
}

// DeriveSharedSecret completes the handshake: it computes the X25519
// Diffie-Hellman point between the local private key and the peer's
// public key, then runs HKDF-SHA256 over it — salted with the client's
// and server's nonces in a fixed order so both sides derive an identical
// secret regardless of which one is computing it, and so a replayed
// public key under a fresh handshake never derives the same secret twice
// — to produce the AES-256 key internal/authpacket.NewCodec requires.
func DeriveSharedSecret(local *ecdh.PrivateKey, peerPublic []byte, clientNonce, serverNonce []byte) ([]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, errHandshake
	}
	point, err := local.ECDH(peerKey)
	if err != nil {
		return nil, errHandshake
	}

	salt := append(append([]byte(nil), clientNonce...), serverNonce...)
	kdf := hkdf.New(sha256.New, point, salt, []byte("agentd protocol handshake"))

	secret := make([]byte, authpacket.KeySize)
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return nil, errHandshake
	}
	return secret, nil
}
