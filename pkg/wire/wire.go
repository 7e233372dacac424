// Package wire frames and parses the datagram protocol's packet types. It
// knows nothing about sessions, handshakes, or cryptography beyond the
// fixed-size fields the wire format dictates; pkg/channel owns all of that.
package wire

import (
	"crypto/rand"
	"fmt"
)

// Packet type tags, one byte each.
const (
	TypeEphemeralKey  byte = 0x01
	TypeMsg           byte = 0x02
	TypeAck           byte = 0x04
	TypeReconnectReq  byte = 0x05
	TypeReconnectResp byte = 0x06
	TypePendingSend   byte = 0x07
	TypePendingDone   byte = 0x08
	TypeHandshakeInit byte = 0x10
	TypeHandshakeResp byte = 0x11
)

// HeaderSize is the fixed 1-byte type + 4-byte cid prefix every packet
// carries. Datagrams shorter than this are dropped before parsing.
const HeaderSize = 5

// NonceSize is the AEAD nonce length used throughout the protocol.
const NonceSize = 12

// PubKeySize is the raw X25519 public key length.
const PubKeySize = 32

// CID is the unauthenticated four-byte connection identifier every packet
// echoes. It has no defined semantics beyond a liveness hint for logs; it
// must never be used for routing or deduplication.
type CID [4]byte

// NewCID draws a fresh random connection id, chosen once per process start.
func NewCID() CID {
	var cid CID
	_, _ = rand.Read(cid[:])
	return cid
}

// SplitHeader parses the 5-byte header off datagram and returns the packet
// type, the cid, and the remaining payload. It reports false for any
// datagram shorter than HeaderSize, per the "drop silently" rule.
func SplitHeader(datagram []byte) (typ byte, cid CID, payload []byte, ok bool) {
	if len(datagram) < HeaderSize {
		return 0, cid, nil, false
	}
	copy(cid[:], datagram[1:5])
	return datagram[0], cid, datagram[5:], true
}

func header(typ byte, cid CID) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = typ
	copy(buf[1:5], cid[:])
	return buf
}

// EncodeEphemeralKey builds an EphemeralKey packet carrying pub.
func EncodeEphemeralKey(cid CID, pub [PubKeySize]byte) []byte {
	return append(header(TypeEphemeralKey, cid), pub[:]...)
}

// DecodeEphemeralKey parses an EphemeralKey payload.
func DecodeEphemeralKey(payload []byte) ([PubKeySize]byte, bool) {
	var pub [PubKeySize]byte
	if len(payload) != PubKeySize {
		return pub, false
	}
	copy(pub[:], payload)
	return pub, true
}

// EncodeAEAD builds a Msg or Ack packet: nonce || ciphertext.
func EncodeAEAD(typ byte, cid CID, nonce [NonceSize]byte, ciphertext []byte) []byte {
	buf := header(typ, cid)
	buf = append(buf, nonce[:]...)
	buf = append(buf, ciphertext...)
	return buf
}

// DecodeAEAD splits a Msg/Ack payload into its nonce and ciphertext.
func DecodeAEAD(payload []byte) (nonce [NonceSize]byte, ciphertext []byte, ok bool) {
	if len(payload) < NonceSize {
		return nonce, nil, false
	}
	copy(nonce[:], payload[:NonceSize])
	return nonce, payload[NonceSize:], true
}

// EncodeHandshake builds a HandshakeInit or HandshakeResp packet:
// static_pub[32] || nonce[12] || AEAD-wrapped cert_der.
func EncodeHandshake(typ byte, cid CID, staticPub [PubKeySize]byte, nonce [NonceSize]byte, wrappedCert []byte) []byte {
	buf := header(typ, cid)
	buf = append(buf, staticPub[:]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, wrappedCert...)
	return buf
}

// DecodeHandshake splits a handshake payload into its static public key,
// nonce, and wrapped certificate bytes.
func DecodeHandshake(payload []byte) (staticPub [PubKeySize]byte, nonce [NonceSize]byte, wrappedCert []byte, ok bool) {
	if len(payload) < PubKeySize+NonceSize {
		return staticPub, nonce, nil, false
	}
	copy(staticPub[:], payload[:PubKeySize])
	copy(nonce[:], payload[PubKeySize:PubKeySize+NonceSize])
	return staticPub, nonce, payload[PubKeySize+NonceSize:], true
}

// EncodeEmpty builds a packet with no payload: ReconnectReq, ReconnectResp,
// PendingSend, or PendingDone.
func EncodeEmpty(typ byte, cid CID) []byte {
	return header(typ, cid)
}

// TypeName returns a human-readable name for a packet type, used in debug
// logging only.
func TypeName(typ byte) string {
	switch typ {
	case TypeEphemeralKey:
		return "EphemeralKey"
	case TypeMsg:
		return "Msg"
	case TypeAck:
		return "Ack"
	case TypeReconnectReq:
		return "ReconnectReq"
	case TypeReconnectResp:
		return "ReconnectResp"
	case TypePendingSend:
		return "PendingSend"
	case TypePendingDone:
		return "PendingDone"
	case TypeHandshakeInit:
		return "HandshakeInit"
	case TypeHandshakeResp:
		return "HandshakeResp"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", typ)
	}
}
