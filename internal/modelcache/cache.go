// Package modelcache keeps downloaded recognition model artifacts on disk and
// verifies them before use.
package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrChecksum = errors.New("model artifact checksum mismatch")

type Store struct {
	dir        string
	baseURL    string
	httpClient *http.Client
}

func New(dir, baseURL string, httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Store{
		dir:        dir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func FileName(model string) string {
	return "ggml-" + model + ".bin"
}

func (s *Store) Path(model string) string {
	return filepath.Join(s.dir, FileName(model))
}

// Ensure returns the local path of the artifact for model, downloading it when
// missing. A non-empty wantSHA256 is checked against the file on disk; a
// mismatch returns ErrChecksum and leaves the file for Purge.
func (s *Store) Ensure(ctx context.Context, model, wantSHA256 string) (string, error) {
	path := s.Path(model)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.download(ctx, model, path); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	wantSHA256 = strings.ToLower(strings.TrimSpace(wantSHA256))
	if wantSHA256 == "" {
		return path, nil
	}
	got, err := fileSHA256(path)
	if err != nil {
		return "", err
	}
	if got != wantSHA256 {
		return "", fmt.Errorf("%w: %s has %s, want %s", ErrChecksum, path, got, wantSHA256)
	}
	return path, nil
}

func (s *Store) Purge(model string) error {
	err := os.Remove(s.Path(model))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) download(ctx context.Context, model, dst string) error {
	if s.baseURL == "" {
		return fmt.Errorf("model %q not cached and no download URL configured", model)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+FileName(model), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model %q: status %d", model, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.dir, FileName(model)+".*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("download model %q: %w", model, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
