// Package qr builds, signs and renders the scannable QR payload.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// Payload is the JSON document embedded in the scannable URL. The hash binds
// the token and timestamp to the server secret so a verifying endpoint can
// reject forged codes without consulting the token registry.
type Payload struct {
	QRToken   string `json:"qrToken"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
	SessionID string `json:"sessionId,omitempty"`
}

// Sign computes the payload hash: SHA256(token + timestamp + secret), hex.
func Sign(token string, timestamp int64, secret string) string {
	sum := sha256.Sum256([]byte(token + strconv.FormatInt(timestamp, 10) + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash and compares in constant time.
func (p Payload) Verify(secret string) bool {
	if p.QRToken == "" || p.Timestamp == 0 || p.Hash == "" {
		return false
	}
	expected := Sign(p.QRToken, p.Timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(p.Hash))
}

// NewPayload builds a signed payload for a scan token.
func NewPayload(token, sessionID, secret string) Payload {
	return PayloadAt(token, sessionID, secret, time.Now())
}

// PayloadAt builds a signed payload stamped with the token's mint time, so a
// reissued cached token maps back to the identical payload and image.
func PayloadAt(token, sessionID, secret string, at time.Time) Payload {
	ts := at.UnixMilli()
	return Payload{
		QRToken:   token,
		Timestamp: ts,
		Hash:      Sign(token, ts, secret),
		SessionID: sessionID,
	}
}

// ScanURL returns the verification URL the QR image encodes.
func (p Payload) ScanURL(baseURL string) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return baseURL + "/verify-attendance?data=" + url.QueryEscape(string(data)), nil
}

// ParsePayload decodes the data query parameter of a scan URL.
func ParsePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("decode qr payload: %w", err)
	}
	return p, nil
}

// Generator renders QR payloads to PNG files in a directory.
type Generator struct {
	dir     string
	baseURL string
}

// NewGenerator ensures the image directory exists.
func NewGenerator(dir, baseURL string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create qr dir: %w", err)
	}
	return &Generator{dir: dir, baseURL: baseURL}, nil
}

// Generate writes a 400px PNG for the payload and returns the file name.
// The name derives from the payload timestamp, so re-generating a cached
// token's payload reuses the existing file instead of rendering again.
func (g *Generator) Generate(p Payload) (string, error) {
	name := fmt.Sprintf("qr_%d.png", p.Timestamp)
	path := filepath.Join(g.dir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}
	scanURL, err := p.ScanURL(g.baseURL)
	if err != nil {
		return "", err
	}
	if err := qrcode.WriteFile(scanURL, qrcode.Medium, 400, path); err != nil {
		return "", fmt.Errorf("render qr png: %w", err)
	}
	return name, nil
}

// CleanupOld removes qr_<millis>.png files older than maxAge. File names
// carry their creation timestamp so no stat calls are needed.
func (g *Generator) CleanupOld(maxAge time.Duration) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		log.Printf("qr cleanup: %v", err)
		return
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "qr_") || !strings.HasSuffix(name, ".png") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "qr_"), ".png"), 10, 64)
		if err != nil {
			continue
		}
		if ts < cutoff {
			if err := os.Remove(filepath.Join(g.dir, name)); err != nil {
				log.Printf("qr cleanup: remove %s: %v", name, err)
			}
		}
	}
}
