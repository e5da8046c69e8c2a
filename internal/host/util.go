package host

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// quote shell-quotes a single filename/argument (spec §4.4, "all
// filenames are quoted").
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// quotef builds a shell line with a single quoted argument, the most
// common shape for the file-predicate commands.
func quotef(format string, path string) string {
	return fmt.Sprintf(format, quote(path))
}

func trimNL(s string) string {
	return strings.TrimRight(s, "\n")
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// detectFamily determines OS family by probing for apt/apt-get
// (Debian) then yum (RedHat), per spec §4.4.
func detectFamily(ctx context.Context, t Target) (Family, error) {
	if t.Zero(ctx, "which apt-get") || t.Zero(ctx, "which apt") {
		return Debian, nil
	}
	if t.Zero(ctx, "which yum") {
		return RedHat, nil
	}
	return Unknown, fmt.Errorf("host: unable to detect OS family (no apt/apt-get or yum)")
}

// verifyChecksum compares the sha256 of the fetched file at dst
// against the expected hex digest.
func verifyChecksum(ctx context.Context, t Target, dst string, expected string) error {
	data, err := t.Load(ctx, dst)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("host: checksum mismatch for %s: got %s, want %s", dst, got, expected)
	}
	return nil
}
