package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignatureBase is the exact digest input: the canonical string of f with
// passphrase=<secret> appended last when secret is non-empty.
func SignatureBase(f Fields, order []Field, secret string) string {
	base := Encode(f, order)
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return base
	}
	tail := string(FieldPassphrase) + "=" + encodeComponent(secret)
	if base == "" {
		return tail
	}
	return base + "&" + tail
}

// Sign returns the lowercase hex MD5 of SignatureBase. MD5 is what the
// processor verifies with; it is not a security boundary on its own, remote
// validation is.
func Sign(f Fields, order []Field, secret string) string {
	sum := md5.Sum([]byte(SignatureBase(f, order, secret)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature over f and compares it with claimed.
// A mismatch is an ordinary false, never an error.
func Verify(f Fields, order []Field, claimed, secret string) bool {
	claimed = strings.ToLower(strings.TrimSpace(claimed))
	if claimed == "" {
		return false
	}
	expected := Sign(f, order, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1
}

// VerifyNotification checks an inbound field set against its own signature field.
func VerifyNotification(f Fields, secret string) bool {
	return Verify(f, NotificationOrder, f.Get(FieldSignature), secret)
}
