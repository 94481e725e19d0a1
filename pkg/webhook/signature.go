package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds the allowed clock skew between event signing time
// and verification time. Events outside the window are rejected as expired,
// which caps replay-attack exposure.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrSignatureMalformed is returned when the signature header cannot be
	// parsed (missing t or v1 fields, non-numeric timestamp).
	ErrSignatureMalformed = errors.New("malformed signature header")

	// ErrSignatureExpired is returned when the signed timestamp is outside
	// the tolerance window, in either direction.
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance window")

	// ErrSignatureMismatch is returned when the computed HMAC does not
	// match the one in the header.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Verifier authenticates raw webhook payloads against the provider's
// signature header. It is stateless: verification is a pure function of
// (payload, header, secret, now).
type Verifier struct {
	// Secret is the shared signing secret issued by the provider.
	Secret string

	// Tolerance is the maximum allowed age of a signed timestamp.
	// Defaults to DefaultTolerance when zero.
	Tolerance time.Duration
}

// Verify checks the signature header against the exact payload bytes as
// received. It must run before the payload is deserialized: re-serialized
// JSON is not guaranteed to be byte-identical, and the HMAC covers bytes.
//
// The header format is "t=<unix-seconds>,v1=<hex-hmac-sha256>" and the
// signed message is "<t>.<payload>".
func (v Verifier) Verify(payload []byte, header string, now time.Time) error {
	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}

	var timestamp, signature string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("%w: invalid pair %q", ErrSignatureMalformed, part)
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			timestamp = strings.TrimSpace(kv[1])
		case "v1":
			signature = strings.TrimSpace(kv[1])
		}
	}
	if timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", ErrSignatureMalformed)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing v1 signature", ErrSignatureMalformed)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrSignatureMalformed, timestamp)
	}

	nowUnix := now.Unix()
	if nowUnix < ts || nowUnix-ts > int64(tolerance/time.Second) {
		return fmt.Errorf("%w: signed at %d, verified at %d", ErrSignatureExpired, ts, nowUnix)
	}

	expected := ComputeSignature(v.Secret, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 of
// "<timestamp>.<payload>" under the given secret. Exposed for signing test
// fixtures and outbound deliveries.
func ComputeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
