package job

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// MetaPath returns the path of the numbered checkpoint record for
// checkpointID under baseDir/jobID.
func MetaPath(baseDir, jobID, checkpointID string) string {
	return filepath.Join(baseDir, jobID, "checkpoint_"+checkpointID+".json")
}

// LatestPath returns the path of the "latest checkpoint" pointer file under
// baseDir/jobID.
func LatestPath(baseDir, jobID string) string {
	return filepath.Join(baseDir, jobID, "checkpoint_latest.json")
}

// WriteJSON serializes m to path, writing to a sibling temp file first and
// renaming into place so a reader never observes a partially written file —
// the original implementation writes latest_path directly, which a crash
// mid-write can leave truncated.
func (m Meta) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("create checkpoint meta dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshal checkpoint meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return xerrors.Errorf("write checkpoint meta temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.Errorf("rename checkpoint meta into place: %w", err)
	}
	return nil
}

// ReadMeta reads and decodes the Meta at path.
func ReadMeta(path string) (Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, xerrors.Errorf("read checkpoint meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, xerrors.Errorf("unmarshal checkpoint meta: %w", err)
	}
	return m, nil
}

// Exists reports whether a file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
