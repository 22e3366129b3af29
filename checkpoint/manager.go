// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package checkpoint exports chain state into portable archives and
// restores stores from them.
package checkpoint

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/store"
)

var (
	ErrAlreadyExists     = errors.New("checkpoint already exists")
	ErrStoreUnavailable  = store.ErrStoreUnavailable
	ErrWriterActive      = errors.New("a writer is active")
	ErrIdentityMismatch  = errors.New("checkpoint identity mismatch")
	ErrDestinationExists = errors.New("destination already exists")
	ErrCorruptArchive    = errors.New("corrupt checkpoint archive")
)

// Mode tells how a checkpoint was taken.
type Mode string

const (
	// Online checkpoints come from the running writer.
	Online Mode = "online"
	// Offline checkpoints open the store read-only.
	Offline Mode = "offline"
)

// Writer hands out a snapshot of the live store between blocks.
type Writer interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
}

type Config struct {
	Identity chain.Identity
	// LockID is the key of the instance in [Registry].
	LockID   string
	DataDir  string
	Registry store.Registry
}

type RestoreOptions struct {
	Force                 bool
	AllowIdentityMismatch bool
}

type Manager struct {
	config Config
	writer Writer
	log    log.Logger
}

func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		log:    log.New("module", "checkpoint"),
	}
}

// SetWriter routes checkpoint creation through the live writer. A nil
// writer makes creation open the store itself.
func (m *Manager) SetWriter(w Writer) { m.writer = w }

// Create writes an archive of the chain-state partition to [path].
func (m *Manager) Create(ctx context.Context, path string, force bool) (string, Mode, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(path); err == nil {
		if !force {
			return "", "", fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		if err := os.Remove(path); err != nil {
			return "", "", err
		}
	}

	snap, mode, closeStore, err := m.snapshot(ctx)
	if err != nil {
		return "", "", err
	}
	defer closeStore()
	defer snap.Release()

	parts := store.NewPartitions(snap.DB())
	last, err := ledger.New(parts, nil).LastAcceptedBlock()
	if err != nil {
		return "", "", fmt.Errorf("failed to read last accepted block: %w", err)
	}
	scriptHash, err := m.config.Identity.ScriptHash()
	if err != nil {
		return "", "", err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", "", err
	}

	dir := filepath.Dir(path)
	dumpFile, err := os.CreateTemp(dir, ".dump-*")
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = dumpFile.Close()
		_ = os.Remove(dumpFile.Name())
	}()
	entries, digest, err := dump(ctx, parts.State, dumpFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to dump state: %w", err)
	}

	meta := &Metadata{
		Format:         Format,
		ID:             id,
		Created:        time.Now().UTC(),
		Magic:          m.config.Identity.Magic,
		AddressVersion: m.config.Identity.AddressVersion,
		ScriptHash:     scriptHash,
		Height:         last.Height(),
		BlockID:        last.ID(),
		Entries:        entries,
		Digest:         digest,
	}

	archive, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return "", "", err
	}
	archiveName := archive.Name()
	if err := writeArchive(archive, meta, dumpFile); err != nil {
		_ = archive.Close()
		_ = os.Remove(archiveName)
		return "", "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := archive.Close(); err != nil {
		_ = os.Remove(archiveName)
		return "", "", err
	}
	if err := os.Rename(archiveName, path); err != nil {
		_ = os.Remove(archiveName)
		return "", "", err
	}

	m.log.Info("created checkpoint",
		"path", path,
		"mode", mode,
		"height", meta.Height,
		"entries", entries,
	)
	return path, mode, nil
}

func (m *Manager) snapshot(ctx context.Context) (*store.Snapshot, Mode, func(), error) {
	if m.writer != nil {
		snap, err := m.writer.Snapshot(ctx)
		return snap, Online, func() {}, err
	}

	if m.config.Registry != nil {
		held, err := m.config.Registry.IsHeld(m.config.LockID)
		if err != nil {
			return nil, "", nil, err
		}
		if held {
			return nil, "", nil, fmt.Errorf("%w: %s has an active writer", ErrStoreUnavailable, m.config.LockID)
		}
	}
	s, err := store.Open(store.Config{
		Path:     m.config.DataDir,
		Mode:     store.ReadOnly,
		Registry: m.config.Registry,
		Identity: m.config.LockID,
	})
	if err != nil {
		return nil, "", nil, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		_ = s.Close()
		return nil, "", nil, err
	}
	return snap, Offline, func() { _ = s.Close() }, nil
}

// Restore materializes the archive at [archivePath] as the store at
// [dest].
func (m *Manager) Restore(ctx context.Context, archivePath string, dest string, opts RestoreOptions) (*Metadata, error) {
	if m.config.Registry != nil {
		held, err := m.config.Registry.IsHeld(m.config.LockID)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, fmt.Errorf("%w: %s", ErrWriterActive, m.config.LockID)
		}
	}
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	meta, err := openArchive(tr)
	if err != nil {
		return nil, err
	}
	if err := m.config.Identity.Matches(meta.Magic, meta.AddressVersion, meta.ScriptHash); err != nil {
		if !opts.AllowIdentityMismatch {
			return nil, fmt.Errorf("%w: %v", ErrIdentityMismatch, err)
		}
		m.log.Warn("restoring checkpoint of another identity", "reason", err)
	}
	exists, err := nonEmpty(dest)
	if err != nil {
		return nil, err
	}
	if exists && !opts.Force {
		return nil, fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(filepath.Dir(dest), ".restore-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := materialize(ctx, tr, staging, meta); err != nil {
		return nil, err
	}
	if err := swap(staging, dest); err != nil {
		return nil, err
	}

	m.log.Info("restored checkpoint",
		"path", dest,
		"height", meta.Height,
		"entries", meta.Entries,
	)
	return meta, nil
}

// materialize loads the dump in [tr] into a new store at [dir] and checks
// it against [meta].
func materialize(ctx context.Context, tr *tar.Reader, dir string, meta *Metadata) error {
	s, err := store.Open(store.Config{Path: dir, Mode: store.ReadWrite})
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	entries, digest, err := load(ctx, tr, store.NewPartitions(snap.DB()).State)
	if err != nil {
		return err
	}
	if entries != meta.Entries {
		return fmt.Errorf("%w: %d entries but metadata says %d", ErrCorruptArchive, entries, meta.Entries)
	}
	if digest != meta.Digest {
		return fmt.Errorf("%w: digest %s but metadata says %s", ErrCorruptArchive, digest, meta.Digest)
	}
	return nil
}

// swap replaces [dest] with [staging].
func swap(staging, dest string) error {
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return os.Rename(staging, dest)
	}
	old := fmt.Sprintf("%s.old-%s", dest, uuid.NewString())
	if err := os.Rename(dest, old); err != nil {
		return err
	}
	if err := os.Rename(staging, dest); err != nil {
		if rollbackErr := os.Rename(old, dest); rollbackErr != nil {
			return fmt.Errorf("failed to move %s into place: %w, and to restore it: %v", staging, err, rollbackErr)
		}
		return err
	}
	return os.RemoveAll(old)
}

func nonEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
