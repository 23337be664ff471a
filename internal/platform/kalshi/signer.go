package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kalshi authentication headers.
const (
	headerAccessKey = "KALSHI-ACCESS-KEY"
	headerSignature = "KALSHI-ACCESS-SIGNATURE"
	headerTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

var errNoKey = errors.New("kalshi: RSA private key not configured")

// signer produces RSA-PSS request signatures. The signed message is the
// millisecond timestamp, the method and the URL path without its query.
type signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

func (s *signer) headers(method, path string) (http.Header, error) {
	if s.key == nil {
		return nil, errNoKey
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	path, _, _ = strings.Cut(path, "?")

	digest := sha256.Sum256([]byte(ts + method + path))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: sign %s %s: %w", method, path, err)
	}

	h := make(http.Header, 3)
	h.Set(headerAccessKey, s.keyID)
	h.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	h.Set(headerTimestamp, ts)
	return h, nil
}

// parseRSAKey accepts PKCS#8 or PKCS#1 PEM.
func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("kalshi: private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: private key is %T, want RSA", parsed)
	}
	return key, nil
}
