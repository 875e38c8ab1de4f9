// Package auth signs the signaling handshake with a per-device RSA key.
//
// A device that has a key configured adds three headers to the WebSocket
// upgrade request. The server checks the RSA-PSS signature over
// timestamp_ms + "GET" + path + device_id against the device's registered
// public key and rejects stale timestamps.
package auth

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
	"os"
	"strconv"
	"time"
)

// Handshake header names.
const (
	HeaderDeviceID  = "X-Spot-Device-Id"
	HeaderTimestamp = "X-Spot-Timestamp"
	HeaderSignature = "X-Spot-Signature"
)

var (
	// ErrMissingHeader is returned by VerifyHandshake when a header is absent.
	ErrMissingHeader = errors.New("missing handshake header")

	// ErrStaleHandshake is returned by VerifyHandshake for old timestamps.
	ErrStaleHandshake = errors.New("handshake timestamp outside allowed skew")
)

// Credentials holds the device identity and private key for signing.
type Credentials struct {
	DeviceID   string
	PrivateKey *rsa.PrivateKey

	now func() time.Time
}

// LoadCredentials loads credentials from a device ID and private key file path.
func LoadCredentials(deviceID, privateKeyPath string) (*Credentials, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		DeviceID:   deviceID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignHandshake returns the headers for a WebSocket upgrade to path.
func (c *Credentials) SignHandshake(path string) (http.Header, error) {
	timestampMs := c.clock().UnixMilli()

	signature, err := c.sign(handshakeMessage(timestampMs, path, c.DeviceID))
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderDeviceID, c.DeviceID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, signature)
	return h, nil
}

// VerifyHandshake checks headers produced by SignHandshake.
func VerifyHandshake(pub *rsa.PublicKey, h http.Header, path string, maxSkew time.Duration, now time.Time) error {
	deviceID := h.Get(HeaderDeviceID)
	ts := h.Get(HeaderTimestamp)
	sig := h.Get(HeaderSignature)
	if deviceID == "" || ts == "" || sig == "" {
		return ErrMissingHeader
	}

	timestampMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	if d := now.Sub(time.UnixMilli(timestampMs)); d > maxSkew || d < -maxSkew {
		return ErrStaleHandshake
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	hashed := sha256.Sum256([]byte(handshakeMessage(timestampMs, path, deviceID)))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], raw, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

func handshakeMessage(timestampMs int64, path, deviceID string) string {
	return fmt.Sprintf("%dGET%s%s", timestampMs, path, deviceID)
}

// sign creates a base64 RSA-PSS signature over message.
func (c *Credentials) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
