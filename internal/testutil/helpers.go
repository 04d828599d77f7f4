package testutil

import (
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return hex.DecodeString(s)
}

// FeedID builds a 32-byte feed identifier from a hex string, failing the
// test on malformed input.
func FeedID(t *testing.T, s string) [32]byte {
	t.Helper()
	b, err := HexToBytes(s)
	if err != nil {
		t.Fatalf("invalid feed ID hex %q: %v", s, err)
	}
	if len(b) > 32 {
		t.Fatalf("feed ID %q longer than 32 bytes", s)
	}
	var id [32]byte
	copy(id[:], b)
	return id
}

// AdapterAddr builds a 20-byte adapter address with a recognizable suffix.
func AdapterAddr(last byte) [20]byte {
	var a [20]byte
	a[19] = last
	return a
}
