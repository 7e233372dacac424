package wire

import "strings"

// EncodeMsgPlaintext builds the plaintext a Msg packet encrypts: "<msgID>|text"
// when msgID is non-empty, or bare text otherwise.
func EncodeMsgPlaintext(msgID, text string) []byte {
	if msgID == "" {
		return []byte(text)
	}
	return []byte(msgID + "|" + text)
}

// DecodeMsgPlaintext splits a Msg plaintext on its first "|", so message
// text may itself contain further "|" bytes. If there is no "|", the whole
// plaintext is returned as text with an empty msgID.
func DecodeMsgPlaintext(plaintext []byte) (msgID, text string) {
	s := string(plaintext)
	idx := strings.IndexByte(s, '|')
	if idx < 0 {
		return "", s
	}
	return s[:idx], s[idx+1:]
}
