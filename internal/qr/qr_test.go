package qr

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPayloadVerify(t *testing.T) {
	t.Parallel()

	p := NewPayload("abcd1234", "sess-1", "topsecret")
	require.True(t, p.Verify("topsecret"))

	tampered := p
	tampered.QRToken = "abcd1235"
	require.False(t, tampered.Verify("topsecret"))

	require.False(t, p.Verify("wrong-secret"))
	require.False(t, Payload{}.Verify("topsecret"))
}

func TestScanURLRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewPayload("deadbeef", "", "s3cret")
	scanURL, err := p.ScanURL("http://localhost:5050")
	require.NoError(t, err)

	u, err := url.Parse(scanURL)
	require.NoError(t, err)
	require.Equal(t, "/verify-attendance", u.Path)

	got, err := ParsePayload(u.Query().Get("data"))
	require.NoError(t, err)
	require.Equal(t, p, got)
	require.True(t, got.Verify("s3cret"))
}

func TestParsePayload_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ParsePayload("{not json")
	require.Error(t, err)
}

func TestGeneratorWritesAndCleans(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g, err := NewGenerator(dir, "http://localhost:5050")
	require.NoError(t, err)

	name, err := g.Generate(NewPayload("cafef00d", "sess-9", "k"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(name, "qr_"))

	_, err = os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)

	// A file stamped two hours in the past must be swept; the fresh one kept.
	old := fmt.Sprintf("qr_%d.png", time.Now().Add(-2*time.Hour).UnixMilli())
	require.NoError(t, os.WriteFile(filepath.Join(dir, old), []byte("stale"), 0o644))

	g.CleanupOld(time.Hour)

	_, err = os.Stat(filepath.Join(dir, old))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)
}
