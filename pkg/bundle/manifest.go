package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

const configSourceFileName = "sentinel.kdl"

// buildManifest produces the manifest.json content embedded in a bundle
// archive: one entry per file, each with its own SHA-256 (spec.md §4.3
// step b).
func buildManifest(bundleID uuid.UUID, configSource string) store.Manifest {
	sum := sha256.Sum256([]byte(configSource))
	return store.Manifest{
		BundleID:    bundleID,
		AssembledAt: time.Now().UTC(),
		Files: []store.ManifestFile{
			{
				Path:     configSourceFileName,
				Checksum: hex.EncodeToString(sum[:]),
				Size:     int64(len(configSource)),
			},
		},
	}
}
