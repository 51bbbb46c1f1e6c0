// Package workspace snapshots target directories before a run mutates
// them and stages restore copies when a run fails. Restores are always
// staged beside the state directory; the live target is never touched.
package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Snapshot is a zip archive of a target directory taken before a run.
type Snapshot struct {
	// RunID is the run the snapshot belongs to
	RunID string

	// Path is the archive location under the snapshots directory
	Path string
}

// Manager creates, stages and disposes of workspace snapshots.
type Manager struct {
	snapshotsDir string
	restoresDir  string
	log          *zap.Logger
}

// NewManager creates a snapshot manager rooted at the given state
// subdirectories. A nil logger disables logging.
func NewManager(snapshotsDir, restoresDir string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		snapshotsDir: snapshotsDir,
		restoresDir:  restoresDir,
		log:          log,
	}
}

// CreateSnapshot archives the entire target directory to
// <snapshots>/<runID>.zip, replacing any previous archive for the same
// run. Returns a nil snapshot when the target does not exist yet; there
// is nothing to roll back to in that case.
func (m *Manager) CreateSnapshot(runID, targetDir string) (*Snapshot, error) {
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		m.log.Debug("target missing, skipping snapshot", zap.String("target", targetDir))
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat target %s: %w", targetDir, err)
	}

	if err := os.MkdirAll(m.snapshotsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	archivePath := filepath.Join(m.snapshotsDir, runID+".zip")
	if err := zipDirectory(targetDir, archivePath); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", targetDir, err)
	}

	m.log.Debug("snapshot created", zap.String("run_id", runID), zap.String("path", archivePath))
	return &Snapshot{RunID: runID, Path: archivePath}, nil
}

// StageRestore extracts a snapshot into <restores>/<runID>/ for manual
// recovery, clearing any previous staging for the run first. Returns ""
// when there is no snapshot or its archive has gone missing.
func (m *Manager) StageRestore(runID string, snap *Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}
	if _, err := os.Stat(snap.Path); os.IsNotExist(err) {
		m.log.Warn("snapshot archive missing, nothing to stage", zap.String("path", snap.Path))
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to stat snapshot %s: %w", snap.Path, err)
	}

	dest := filepath.Join(m.restoresDir, runID)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear staged restore %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staged restore %s: %w", dest, err)
	}

	if err := unzipInto(snap.Path, dest); err != nil {
		return "", fmt.Errorf("failed to stage restore for run %s: %w", runID, err)
	}

	m.log.Info("rollback staged", zap.String("run_id", runID), zap.String("path", dest))
	return dest, nil
}

// Cleanup removes the snapshot archive. An already-removed archive is
// not an error.
func (m *Manager) Cleanup(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot %s: %w", snap.Path, err)
	}
	return nil
}

// zipDirectory writes root and everything under it into a zip archive,
// keeping empty directories as explicit entries.
func zipDirectory(root, archivePath string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(out))

	zw := zip.NewWriter(out)
	defer multierr.AppendInvoke(&err, multierr.Close(zw))

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				return fmt.Errorf("failed to add directory %s: %w", name, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// Sockets, devices and symlinks are not part of a workspace.
			return nil
		}

		return addFile(zw, path, name)
	})
}

func addFile(zw *zip.Writer, path, name string) (err error) {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// unzipInto extracts an archive under dest, rejecting entries that would
// escape it.
func unzipInto(archivePath, dest string) (err error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rc))

	for _, entry := range rc.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", target, err)
		}
		if err := extractFile(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) (err error) {
	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(out))

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return nil
}

// safeJoin joins an archive entry name onto dest, refusing names that
// resolve outside it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes extraction root", name)
	}
	return target, nil
}
