package bundle

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sentinelcp/control-plane/internal/store"
)

// ConfigDiff is a line-level Myers diff over two config sources
// (spec.md §4.3 "Diff").
type ConfigDiff struct {
	Patch string
}

// DiffConfig computes a line-level Myers diff between two config sources
// and renders it as diffmatchpatch pretty text (inline, ANSI-coloured
// insertions and deletions), not as a unified diff.
func DiffConfig(previous, next string) ConfigDiff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(previous, next)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	return ConfigDiff{Patch: dmp.DiffPrettyText(diffs)}
}

// ManifestDiff reports files added, removed, or changed by checksum
// between two bundle manifests.
type ManifestDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// DiffManifests compares two manifests' file sets.
func DiffManifests(previous, next store.Manifest) ManifestDiff {
	prevFiles := make(map[string]string, len(previous.Files))
	for _, f := range previous.Files {
		prevFiles[f.Path] = f.Checksum
	}
	nextFiles := make(map[string]string, len(next.Files))
	for _, f := range next.Files {
		nextFiles[f.Path] = f.Checksum
	}

	var diff ManifestDiff
	for path, checksum := range nextFiles {
		prevChecksum, existed := prevFiles[path]
		switch {
		case !existed:
			diff.Added = append(diff.Added, path)
		case prevChecksum != checksum:
			diff.Changed = append(diff.Changed, path)
		}
	}
	for path := range prevFiles {
		if _, stillPresent := nextFiles[path]; !stillPresent {
			diff.Removed = append(diff.Removed, path)
		}
	}
	return diff
}
