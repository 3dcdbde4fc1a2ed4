package pgfe

import (
	"errors"
	"testing"
)

func TestClientErrorIsMatchesByCode(t *testing.T) {
	err := newClientError(ErrTimedOut, "deadline exceeded")
	if !errors.Is(err, &ClientError{Code: ErrTimedOut}) {
		t.Errorf("errors.Is should match on ClientErrc code")
	}
	if errors.Is(err, &ClientError{Code: ErrProtocolViolation}) {
		t.Errorf("errors.Is should not match a different code")
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := wrapClientError(ErrConnectionLost, "socket closed", inner)
	if !errors.Is(wrapped, inner) {
		t.Errorf("Unwrap should expose the wrapped error to errors.Is")
	}
}

func TestServerErrorFromFields(t *testing.T) {
	fields := map[byte]string{
		'S': "ERROR",
		'C': "42601",
		'M': "syntax error at or near \"provoke\"",
		'D': "details",
	}
	se := serverErrorFromFields(fields)
	if se.Message != fields['M'] {
		t.Errorf("Message = %q", se.Message)
	}
	if se.SQLState.String() != "42601" {
		t.Errorf("SQLState = %q, want 42601", se.SQLState.String())
	}
	if se.IsNotice() {
		t.Errorf("ERROR severity should not be a notice")
	}
}

func TestServerErrorIsNotice(t *testing.T) {
	fields := map[byte]string{'S': "NOTICE", 'M': "heads up"}
	se := serverErrorFromFields(fields)
	if !se.IsNotice() {
		t.Errorf("NOTICE severity should be a notice")
	}
}
