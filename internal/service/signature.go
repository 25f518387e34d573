package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrInvalidSignature means the signature was present and did not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMissingSignature is only returned in strict mode.
	ErrMissingSignature = errors.New("missing webhook signature")
)

// signatureHeader is the parsed form of "ts=<unix>,v1=<hex>"
type signatureHeader struct {
	ts string
	v1 string
}

// parseSignatureHeader returns false when the header is absent or lacks
// either field.
func parseSignatureHeader(header string) (signatureHeader, bool) {
	var sig signatureHeader
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.ts = strings.TrimSpace(value)
		case "v1":
			sig.v1 = strings.TrimSpace(value)
		}
	}
	return sig, sig.ts != "" && sig.v1 != ""
}

// signatureManifest builds the string the gateway signs
func signatureManifest(paymentID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
}

// ComputeSignature returns the hex HMAC-SHA256 of the manifest
func ComputeSignature(paymentID, requestID, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(paymentID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a gateway signature header. A missing or malformed
// header is accepted (fail-open); a digest that does not match, or that is
// not valid hex, is rejected.
func VerifySignature(paymentID, signatureHeader, requestID, secret string) bool {
	sig, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		util.GetLogger().Warn("Webhook signature header missing or malformed, accepting unverified",
			zap.String("payment_id", paymentID))
		return true
	}
	return digestMatches(paymentID, requestID, sig, secret)
}

func digestMatches(paymentID, requestID string, sig signatureHeader, secret string) bool {
	got, err := hex.DecodeString(strings.ToLower(sig.v1))
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(ComputeSignature(paymentID, requestID, sig.ts, secret))
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// SignatureVerifier applies the configured signature policy
type SignatureVerifier struct {
	secret string
	strict bool
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewSignatureVerifier creates a verifier from gateway config
func NewSignatureVerifier(cfg config.GatewayConfig) *SignatureVerifier {
	return &SignatureVerifier{
		secret: cfg.WebhookSecret,
		strict: cfg.SignatureMode == config.SignatureModeStrict,
		maxAge: time.Duration(cfg.SignatureMaxAgeSeconds) * time.Second,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Verify returns nil when the event may be processed. In permissive mode a
// missing header lets the event through unverified. A present header is
// always checked, so with no secret configured every digest is rejected.
func (v *SignatureVerifier) Verify(paymentID, header, requestID string) error {
	sig, ok := parseSignatureHeader(header)
	if !ok {
		if v.strict {
			util.SignatureFailuresTotal.WithLabelValues("missing").Inc()
			return ErrMissingSignature
		}
		util.SignatureFailuresTotal.WithLabelValues("unverified").Inc()
		v.logger.Warn("Webhook signature header missing or malformed, accepting unverified",
			zap.String("payment_id", paymentID),
			zap.String("request_id", requestID))
		return nil
	}

	if v.maxAge > 0 && !v.fresh(sig.ts) {
		util.SignatureFailuresTotal.WithLabelValues("stale").Inc()
		return fmt.Errorf("%w: timestamp %s outside %s window", ErrInvalidSignature, sig.ts, v.maxAge)
	}

	if !digestMatches(paymentID, requestID, sig, v.secret) {
		util.SignatureFailuresTotal.WithLabelValues("mismatch").Inc()
		return ErrInvalidSignature
	}

	return nil
}

func (v *SignatureVerifier) fresh(ts string) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	return age <= v.maxAge
}
