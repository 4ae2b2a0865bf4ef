package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/sentinelcp/control-plane/internal/store"
)

// archiveResult is the output of assembling a bundle archive: the
// compressed bytes, their sha256 checksum, and the compressed size.
type archiveResult struct {
	Data      []byte
	Checksum  string
	SizeBytes int64
}

// buildArchive tars sentinel.kdl and manifest.json, then compresses with
// zstd, falling back to gzip if the zstd encoder cannot be constructed
// (spec.md §4.3 step b/c).
func buildArchive(configSource string, manifest store.Manifest) (archiveResult, error) {
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return archiveResult{}, fmt.Errorf("encoding manifest: %w", err)
	}

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if err := writeTarFile(tw, configSourceFileName, []byte(configSource)); err != nil {
		return archiveResult{}, err
	}
	if err := writeTarFile(tw, "manifest.json", manifestJSON); err != nil {
		return archiveResult{}, err
	}
	if err := tw.Close(); err != nil {
		return archiveResult{}, fmt.Errorf("closing tar: %w", err)
	}

	compressed, err := compress(tarBuf.Bytes())
	if err != nil {
		return archiveResult{}, err
	}

	sum := sha256.Sum256(compressed)
	return archiveResult{
		Data:      compressed,
		Checksum:  hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(compressed)),
	}, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar content for %s: %w", name, err)
	}
	return nil
}

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return compressGzip(raw)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func compressGzip(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip-compressing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// storageKey is the canonical object-store key for a bundle archive.
func storageKey(projectID, bundleID fmt.Stringer) string {
	return fmt.Sprintf("bundles/%s/%s.tar.zst", projectID, bundleID)
}
