package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Payment-Signature"
	maxWebhookBody  = 1 << 20
)

var ErrBadSignature = errors.New("bad webhook signature")

// Sign returns the Payment-Signature header value for body at time ts.
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac(secret, t, body))
}

func mac(secret, t string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(t))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

type SignatureVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{secret: secret, tolerance: tolerance, now: time.Now}
}

func (v *SignatureVerifier) Verify(header string, body []byte) error {
	var (
		t      string
		hashes [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			t = val
		case "v1":
			if sig, err := hex.DecodeString(val); err == nil {
				hashes = append(hashes, sig)
			}
		}
	}
	if t == "" || len(hashes) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	unix, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if age := v.now().Sub(time.Unix(unix, 0)); age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	expected := mac(v.secret, t, body)
	for _, sig := range hashes {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrBadSignature)
}

// Middleware rejects unsigned requests and hands the verified body on unchanged.
func (v *SignatureVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
			return
		}
		if err := v.Verify(r.Header.Get(SignatureHeader), body); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
