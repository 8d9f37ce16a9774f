package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxAssetBytes bounds a release download.
const maxAssetBytes = 64 << 20

// httpDoer is satisfied by *http.Client.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fetchVerified downloads url into a temp file in dir, hashing as it writes,
// and returns the file path once the SHA-256 matches want. The caller removes
// the file.
func fetchVerified(ctx context.Context, client httpDoer, url, dir, want string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	f, err := os.CreateTemp(dir, ".flowarch-download-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return fail(err)
	}
	if n > maxAssetBytes {
		return fail(fmt.Errorf("GET %s: larger than %d bytes", url, maxAssetBytes))
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != strings.ToLower(want) {
		return fail(fmt.Errorf("checksum mismatch (expected %s, got %s)", want, got))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// readChecksums reads sha256sum output ("<hex>  <name>" or "<hex> *<name>")
// into a name to lower-case digest map. Lines without a valid SHA-256 digest
// are ignored.
func readChecksums(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		digest := strings.ToLower(fields[0])
		if raw, err := hex.DecodeString(digest); err != nil || len(raw) != sha256.Size {
			continue
		}
		sums[strings.TrimPrefix(fields[len(fields)-1], "*")] = digest
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	return sums, nil
}
