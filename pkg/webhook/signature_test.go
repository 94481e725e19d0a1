package webhook

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func signedHeader(t *testing.T, secret string, payload []byte, signedAt time.Time) string {
	t.Helper()
	ts := fmt.Sprintf("%d", signedAt.Unix())
	return fmt.Sprintf("t=%s,v1=%s", ts, ComputeSignature(secret, ts, payload))
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"type":"invoice.paid"}`)
	v := Verifier{Secret: testSecret}

	err := v.Verify(payload, signedHeader(t, testSecret, payload, now), now)
	require.NoError(t, err)
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	v := Verifier{Secret: testSecret}

	// Exactly at the tolerance edge is still accepted.
	err := v.Verify(payload, signedHeader(t, testSecret, payload, now.Add(-DefaultTolerance)), now)
	assert.NoError(t, err)

	// One second past the edge is rejected.
	err = v.Verify(payload, signedHeader(t, testSecret, payload, now.Add(-DefaultTolerance-time.Second)), now)
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	v := Verifier{Secret: testSecret}

	err := v.Verify(payload, signedHeader(t, testSecret, payload, now.Add(time.Minute)), now)
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerify_TamperedPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"amount_paid":1999}`)
	header := signedHeader(t, testSecret, payload, now)
	v := Verifier{Secret: testSecret}

	tampered := []byte(`{"amount_paid":9999}`)
	err := v.Verify(tampered, header, now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_FlippedSignatureByte(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	header := signedHeader(t, testSecret, payload, now)
	v := Verifier{Secret: testSecret}

	// Flip the last hex digit of the signature.
	last := header[len(header)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	err := v.Verify(payload, header[:len(header)-1]+string(flip), now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	header := signedHeader(t, "whsec_other", payload, now)
	v := Verifier{Secret: testSecret}

	err := v.Verify(payload, header, now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_MalformedHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	v := Verifier{Secret: testSecret}
	sig := ComputeSignature(testSecret, "1700000000", payload)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"missing v1", "t=1700000000"},
		{"missing t", "v1=" + sig},
		{"non-numeric timestamp", "t=now,v1=" + sig},
		{"bare value", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(payload, tt.header, now)
			assert.ErrorIs(t, err, ErrSignatureMalformed)
		})
	}
}

func TestVerify_CustomTolerance(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	v := Verifier{Secret: testSecret, Tolerance: 10 * time.Second}

	err := v.Verify(payload, signedHeader(t, testSecret, payload, now.Add(-30*time.Second)), now)
	assert.ErrorIs(t, err, ErrSignatureExpired)

	err = v.Verify(payload, signedHeader(t, testSecret, payload, now.Add(-5*time.Second)), now)
	assert.NoError(t, err)
}

func TestVerify_HeaderWithSpaces(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)
	v := Verifier{Secret: testSecret}

	ts := fmt.Sprintf("%d", now.Unix())
	header := fmt.Sprintf("t=%s, v1=%s", ts, ComputeSignature(testSecret, ts, payload))
	assert.NoError(t, v.Verify(payload, header, now))
}
