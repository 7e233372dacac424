package wire

import (
	"bytes"
	"testing"
)

func TestSplitHeader_TooShortIsDropped(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		if _, _, _, ok := SplitHeader(make([]byte, n)); ok {
			t.Errorf("SplitHeader() of %d bytes should report not-ok", n)
		}
	}
}

func TestEphemeralKeyRoundtrip(t *testing.T) {
	cid := NewCID()
	var pub [PubKeySize]byte
	for i := range pub {
		pub[i] = byte(i)
	}

	datagram := EncodeEphemeralKey(cid, pub)
	typ, gotCID, payload, ok := SplitHeader(datagram)
	if !ok {
		t.Fatal("SplitHeader() should succeed")
	}
	if typ != TypeEphemeralKey {
		t.Errorf("type = 0x%02x, want EphemeralKey", typ)
	}
	if gotCID != cid {
		t.Error("cid should round-trip unchanged")
	}

	gotPub, ok := DecodeEphemeralKey(payload)
	if !ok {
		t.Fatal("DecodeEphemeralKey() should succeed")
	}
	if gotPub != pub {
		t.Error("public key should round-trip unchanged")
	}
}

func TestDecodeEphemeralKey_WrongLength(t *testing.T) {
	if _, ok := DecodeEphemeralKey(make([]byte, 31)); ok {
		t.Error("DecodeEphemeralKey() should reject a 31-byte payload")
	}
	if _, ok := DecodeEphemeralKey(make([]byte, 33)); ok {
		t.Error("DecodeEphemeralKey() should reject a 33-byte payload")
	}
}

func TestAEADRoundtrip(t *testing.T) {
	cid := NewCID()
	var nonce [NonceSize]byte
	nonce[0] = 0xAB
	ciphertext := []byte("pretend-ciphertext-and-tag")

	datagram := EncodeAEAD(TypeMsg, cid, nonce, ciphertext)
	typ, _, payload, ok := SplitHeader(datagram)
	if !ok || typ != TypeMsg {
		t.Fatal("expected a well-formed Msg datagram")
	}

	gotNonce, gotCiphertext, ok := DecodeAEAD(payload)
	if !ok {
		t.Fatal("DecodeAEAD() should succeed")
	}
	if gotNonce != nonce {
		t.Error("nonce should round-trip unchanged")
	}
	if !bytes.Equal(gotCiphertext, ciphertext) {
		t.Error("ciphertext should round-trip unchanged")
	}
}

func TestDecodeAEAD_TooShort(t *testing.T) {
	if _, _, ok := DecodeAEAD(make([]byte, NonceSize-1)); ok {
		t.Error("DecodeAEAD() should reject a payload shorter than the nonce")
	}
}

func TestHandshakeRoundtrip(t *testing.T) {
	cid := NewCID()
	var staticPub [PubKeySize]byte
	staticPub[0] = 1
	var nonce [NonceSize]byte
	nonce[0] = 2
	wrappedCert := []byte("wrapped-certificate-bytes")

	datagram := EncodeHandshake(TypeHandshakeInit, cid, staticPub, nonce, wrappedCert)
	typ, _, payload, ok := SplitHeader(datagram)
	if !ok || typ != TypeHandshakeInit {
		t.Fatal("expected a well-formed HandshakeInit datagram")
	}

	gotPub, gotNonce, gotCert, ok := DecodeHandshake(payload)
	if !ok {
		t.Fatal("DecodeHandshake() should succeed")
	}
	if gotPub != staticPub || gotNonce != nonce {
		t.Error("static key and nonce should round-trip unchanged")
	}
	if !bytes.Equal(gotCert, wrappedCert) {
		t.Error("wrapped certificate should round-trip unchanged")
	}
}

func TestEncodeEmpty(t *testing.T) {
	cid := NewCID()
	for _, typ := range []byte{TypeReconnectReq, TypeReconnectResp, TypePendingSend, TypePendingDone} {
		datagram := EncodeEmpty(typ, cid)
		if len(datagram) != HeaderSize {
			t.Errorf("EncodeEmpty(%s) length = %d, want %d", TypeName(typ), len(datagram), HeaderSize)
		}
		gotTyp, gotCID, payload, ok := SplitHeader(datagram)
		if !ok || gotTyp != typ || gotCID != cid || len(payload) != 0 {
			t.Errorf("EncodeEmpty(%s) did not round-trip", TypeName(typ))
		}
	}
}

func TestMsgPlaintextRoundtrip(t *testing.T) {
	tests := []struct {
		name   string
		msgID  string
		text   string
	}{
		{name: "with id", msgID: "abc-123", text: "hello world"},
		{name: "without id", msgID: "", text: "hello world"},
		{name: "text contains pipe", msgID: "abc-123", text: "a|b|c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := EncodeMsgPlaintext(tt.msgID, tt.text)
			gotID, gotText := DecodeMsgPlaintext(plaintext)
			if gotID != tt.msgID {
				t.Errorf("msgID = %q, want %q", gotID, tt.msgID)
			}
			if gotText != tt.text {
				t.Errorf("text = %q, want %q", gotText, tt.text)
			}
		})
	}
}
