package wire

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// Authentication response subtype codes carried in the first 4 bytes of an
// Authentication ('R') message payload.
const (
	AuthOK                = 0
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// SendPasswordMessage writes a PasswordMessage ('p') frame containing a
// NUL-terminated password string.
func SendPasswordMessage(w io.Writer, password string) error {
	return WriteMessage(w, FrontendPasswordMessage, append([]byte(password), 0))
}

// ComputeMD5Password computes the salted MD5 password PostgreSQL's MD5
// authentication expects: "md5" + hex(md5(hex(md5(password+user)) + salt)).
func ComputeMD5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt[:]...))
	return "md5" + hex.EncodeToString(outer[:])
}
