package storage

import (
	"os"
	"path/filepath"
	"time"
)

// CleanupResult reports what Cleanup removed, so the packer can
// coordinate key destruction in C3 only after confirming no surviving
// artifact references a given key id.
type CleanupResult struct {
	RemovedArtifacts []string
	SurvivingKeyIDs  map[string]bool
}

// Cleanup removes artifacts (and their sidecars) whose age exceeds
// retention_days, oldest first, matching spec.md §4.4's "artifact
// before metadata of the same pair" ordering. It returns the set of
// key ids still referenced by surviving artifacts so C3 key cleanup
// never destroys a key a live artifact still needs.
func (m *Manager) Cleanup(now time.Time) (*CleanupResult, error) {
	result := &CleanupResult{SurvivingKeyIDs: make(map[string]bool)}

	paths, err := m.List(time.Time{}, now)
	if err != nil {
		return nil, err
	}
	if m.cfg.RetentionDays <= 0 {
		// Retention disabled: nothing is removed, but every artifact's key
		// id is still reported as surviving.
		for _, path := range paths {
			if sidecar, err := m.GetMetadata(path); err == nil && sidecar.EncryptionKeyID != "" {
				result.SurvivingKeyIDs[sidecar.EncryptionKeyID] = true
			}
		}
		return result, nil
	}
	cutoff := now.AddDate(0, 0, -m.cfg.RetentionDays)

	for _, path := range paths {
		sidecar, err := m.GetMetadata(path)
		if err != nil {
			continue // already incomplete; a future List pass will skip it
		}

		createdAt := time.Unix(0, sidecar.CreatedAtUnixNS)
		if createdAt.After(cutoff) {
			if sidecar.EncryptionKeyID != "" {
				result.SurvivingKeyIDs[sidecar.EncryptionKeyID] = true
			}
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return result, classifyErr("remove artifact", err)
		}
		if err := os.Remove(sidecarPathFor(path)); err != nil && !os.IsNotExist(err) {
			return result, classifyErr("remove sidecar", err)
		}
		result.RemovedArtifacts = append(result.RemovedArtifacts, path)
	}

	removeEmptyDateDirs(m.cfg.Root)
	return result, nil
}

// removeEmptyDateDirs prunes now-empty YYYY/MM/DD directories left
// behind by Cleanup; best-effort, errors are not fatal to retention.
// Directories are removed deepest-first so emptying a DD dir can in
// turn empty its parent MM dir in the same pass.
func removeEmptyDateDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})

	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
}
