package brain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/manifest"
	"github.com/rcliao/cortex-brain/internal/model"
)

// On-disk layout of one brain directory.
const (
	manifestFile   = "brain.json"
	stateFile      = "state.enc"
	pendingFile    = "state.enc.next"
	signingKeyFile = "keys/signing_key.enc"
	lockFile       = ".lock"
)

// writeFileSync writes b to path and fsyncs it before returning.
func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeSigningKey stores the sealed signing key under dir/keys.
func writeSigningKey(dir string, sealed []byte) error {
	path := filepath.Join(dir, signingKeyFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return writeFileSync(path, sealed)
}

// writeAtomic replaces path with b via a temporary sibling and rename.
func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename %s: %w", filepath.Base(path), err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename is already
	// visible to this process either way.
	_ = d.Sync()
	return nil
}

// commit persists a sealed state and its signed manifest. The manifest
// rename is the commit point: state.enc.next is written first, then
// brain.json, then state.enc.next replaces state.enc. A crash at any step
// leaves a pair that loadPair can settle. Once brain.json is in place the
// change is durable, so a failed promotion is not an error: the pending
// file stays and the next commit or open promotes it.
func commit(dir string, m *model.Manifest, sealedState []byte) error {
	if err := settlePending(dir); err != nil {
		return fmt.Errorf("promote pending state: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, pendingFile), sealedState); err != nil {
		return fmt.Errorf("write pending state: %w", err)
	}
	b, err := manifest.Encode(m)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, manifestFile), b); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(filepath.Join(dir, pendingFile), filepath.Join(dir, stateFile)); err == nil {
		_ = syncDir(dir)
	}
	return nil
}

// settlePending finishes a promotion an earlier commit left undone, so the
// pending file is never overwritten while it holds the only committed state.
// A pending file the manifest does not match is a torn write and is removed.
func settlePending(dir string) error {
	pendingPath := filepath.Join(dir, pendingFile)
	pending, err := os.ReadFile(pendingPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	m, err := manifest.Read(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return os.Remove(pendingPath)
	}
	if err != nil {
		return err
	}
	if crypto.Checksum(pending) != m.StateSHA256 {
		return os.Remove(pendingPath)
	}
	return os.Rename(pendingPath, filepath.Join(dir, stateFile))
}

// loadPair reads the committed manifest and encrypted state. A pending state
// whose checksum matches the manifest was committed but not yet promoted;
// writers promote it, readers just use it. Any other pending file is a torn
// write and is discarded by writers.
func loadPair(dir string, writable bool) (*model.Manifest, []byte, error) {
	m, err := manifest.Read(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s has no manifest", model.ErrBrainNotFound, filepath.Base(dir))
		}
		return nil, nil, err
	}

	pendingPath := filepath.Join(dir, pendingFile)
	if pending, err := os.ReadFile(pendingPath); err == nil {
		if crypto.Checksum(pending) == m.StateSHA256 {
			if writable {
				if err := os.Rename(pendingPath, filepath.Join(dir, stateFile)); err != nil {
					return nil, nil, fmt.Errorf("promote pending state: %w", err)
				}
			}
			return m, pending, nil
		}
		if writable {
			_ = os.Remove(pendingPath)
		}
	}

	state, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: state file missing", model.ErrCorruptOrTamperedBrain)
		}
		return nil, nil, err
	}
	return m, state, nil
}
