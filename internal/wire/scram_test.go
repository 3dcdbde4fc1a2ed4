package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// fakeScramServer plays the backend side of one SCRAM-SHA-256 exchange
// (RFC 5802) against ScramSHA256Client over an in-memory net.Pipe,
// verifying the client proof with the same password the client used.
func fakeScramServer(t *testing.T, conn net.Conn, password string) {
	t.Helper()

	salt := []byte("fixedsaltfortest")
	const iterations = 4096

	msg, err := ReadMessage(conn)
	if err != nil {
		t.Errorf("server: reading SASLInitialResponse: %v", err)
		return
	}
	if msg.Type != FrontendPasswordMessage {
		t.Errorf("server: expected 'p' message, got %q", msg.Type)
		return
	}
	mech, rest, ok := readCString(msg.Payload)
	if !ok || mech != "SCRAM-SHA-256" {
		t.Errorf("server: unexpected mechanism %q", mech)
		return
	}
	length := Uint32(rest[:4])
	clientFirstMsg := string(rest[4 : 4+length])
	if !strings.HasPrefix(clientFirstMsg, "n,,") {
		t.Errorf("server: missing gs2 header: %q", clientFirstMsg)
		return
	}
	clientFirstBare := clientFirstMsg[len("n,,"):]

	var clientNonce string
	for _, part := range strings.Split(clientFirstBare, ",") {
		if strings.HasPrefix(part, "r=") {
			clientNonce = part[2:]
		}
	}
	if clientNonce == "" {
		t.Errorf("server: missing client nonce in %q", clientFirstBare)
		return
	}

	serverNonceBytes := make([]byte, 12)
	if _, err := rand.Read(serverNonceBytes); err != nil {
		t.Errorf("server: generating nonce: %v", err)
		return
	}
	combinedNonce := clientNonce + base64.StdEncoding.EncodeToString(serverNonceBytes)
	serverFirstMsg := fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, base64.StdEncoding.EncodeToString(salt), iterations)

	continuePayload := append([]byte{0, 0, 0, AuthSASLContinue}, serverFirstMsg...)
	if err := WriteMessage(conn, BackendAuthentication, continuePayload); err != nil {
		t.Errorf("server: sending server-first-message: %v", err)
		return
	}

	finalMsg, err := ReadMessage(conn)
	if err != nil {
		t.Errorf("server: reading SASLResponse: %v", err)
		return
	}
	clientFinalMsg := string(finalMsg.Payload)
	idx := strings.LastIndex(clientFinalMsg, ",p=")
	if idx < 0 {
		t.Errorf("server: missing proof in client-final-message: %q", clientFinalMsg)
		return
	}
	clientFinalWithoutProof := clientFinalMsg[:idx]
	proofB64 := clientFinalMsg[idx+len(",p="):]
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		t.Errorf("server: decoding proof: %v", err)
		return
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	authMessage := clientFirstBare + "," + serverFirstMsg + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	expectedProof := xorBytes(clientKey, clientSignature)
	if string(proof) != string(expectedProof) {
		t.Errorf("server: client proof mismatch, password check failed")
		return
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	serverFinalMsg := "v=" + base64.StdEncoding.EncodeToString(serverSignature)
	finalPayload := append([]byte{0, 0, 0, AuthSASLFinal}, serverFinalMsg...)
	if err := WriteMessage(conn, BackendAuthentication, finalPayload); err != nil {
		t.Errorf("server: sending server-final-message: %v", err)
		return
	}
}

func TestScramSHA256ClientFullExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeScramServer(t, serverConn, "correct horse battery staple")
	}()

	saslPayload := append([]byte("SCRAM-SHA-256"), 0, 0)
	if err := ScramSHA256Client(clientConn, "tester", "correct horse battery staple", saslPayload); err != nil {
		t.Fatalf("ScramSHA256Client: %v", err)
	}
	<-done
}

func TestScramSHA256ClientRejectsUnsupportedMechanism(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	go serverConn.Close()

	saslPayload := append([]byte("SCRAM-SHA-1"), 0, 0)
	if err := ScramSHA256Client(clientConn, "tester", "irrelevant", saslPayload); err == nil {
		t.Errorf("expected error when server does not offer SCRAM-SHA-256")
	}
}
