package indexer

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/tabi/internal/models"
	"go.uber.org/zap"
)

const stateVersion = 1

// state is the persisted form of a Manager. Removed packages are kept as
// dead slots so vectors stay aligned with positions.
type state struct {
	Version      int
	Dimensions   int
	Slots        []slot
	Vectors      [][]float32
	Fingerprints map[string]string
	UpdateCount  int
	LastUpdated  time.Time
	LastRebuild  time.Time
}

type slot struct {
	Package models.Package
	Live    bool
}

// snapshotLocked captures the state to persist. Packages and vectors are
// never mutated after insertion, so sharing them is safe. m.mu must be held.
func (m *Manager) snapshotLocked() *state {
	if m.cfg.StatePath == "" {
		return nil
	}
	st := &state{
		Version:      stateVersion,
		Dimensions:   m.cfg.Dimensions,
		Slots:        make([]slot, len(m.slots)),
		Vectors:      make([][]float32, len(m.vectors)),
		Fingerprints: make(map[string]string, len(m.fingerprints)),
		UpdateCount:  m.updateCount,
		LastUpdated:  m.lastUpdated,
		LastRebuild:  m.lastRebuild,
	}
	for i, pkg := range m.slots {
		if pkg != nil {
			st.Slots[i] = slot{Package: *pkg, Live: true}
		}
	}
	copy(st.Vectors, m.vectors)
	for id, fp := range m.fingerprints {
		st.Fingerprints[id] = fp
	}
	return st
}

// persist writes st to the state path. Failures are logged; the in-memory
// state stays authoritative.
func (m *Manager) persist(st *state) {
	if st == nil {
		return
	}
	if err := writeState(m.cfg.StatePath, st); err != nil {
		m.logger.Error("Failed to persist index state",
			zap.String("path", m.cfg.StatePath),
			zap.Error(err))
	}
}

func writeState(path string, st *state) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		tmp.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func readState(path string) (*state, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var st state
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("unsupported state version %d", st.Version)
	}
	if len(st.Slots) != len(st.Vectors) {
		return nil, fmt.Errorf("state has %d slots but %d vectors", len(st.Slots), len(st.Vectors))
	}
	return &st, nil
}

// load restores persisted state and builds the index over it. A missing
// file is silent; an unreadable or incompatible one is logged and ignored.
func (m *Manager) load() {
	if m.cfg.StatePath == "" {
		return
	}
	st, err := readState(m.cfg.StatePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Ignoring unreadable index state, starting empty",
				zap.String("path", m.cfg.StatePath),
				zap.Error(err))
		}
		return
	}
	if st.Dimensions != m.cfg.Dimensions {
		m.logger.Warn("Ignoring index state with different dimensions, starting empty",
			zap.Int("state", st.Dimensions),
			zap.Int("configured", m.cfg.Dimensions))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range st.Slots {
		if !s.Live {
			m.slots = append(m.slots, nil)
			m.tombstones++
		} else {
			pkg := s.Package
			m.positions[pkg.ID] = len(m.slots)
			m.slots = append(m.slots, &pkg)
			m.fingerprints[pkg.ID] = st.Fingerprints[pkg.ID]
		}
		m.vectors = append(m.vectors, st.Vectors[i])
	}
	m.updateCount = st.UpdateCount
	m.lastUpdated = st.LastUpdated
	m.lastRebuild = st.LastRebuild
	if len(m.slots) > 0 {
		_ = m.rebuildLocked()
	}
	m.metrics.SetIndexSize(len(m.positions), len(m.vectors))
	m.logger.Info("Loaded index state",
		zap.String("path", m.cfg.StatePath),
		zap.Int("packages", len(m.positions)))
}
