package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTier is the local emergency fallback. It is only written when
// every regular tier is simultaneously unavailable, so it favors
// simplicity over throughput: one JSON file per session holding its
// emergency checkpoints, one per session record, atomic temp+rename
// writes, and an in-memory id index rebuilt on open.
type FileTier struct {
	baseDir string
	mu      sync.RWMutex
	// index maps checkpoint id -> owning session id.
	index  map[string]string
	closed bool
}

// NewFileTier opens the emergency tier rooted at baseDir.
func NewFileTier(baseDir string) (*FileTier, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create emergency store directory: %w", err)
	}

	t := &FileTier{
		baseDir: baseDir,
		index:   make(map[string]string),
	}
	if err := t.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("failed to index emergency store: %w", err)
	}
	return t, nil
}

// rebuildIndex scans the per-session emergency files.
func (t *FileTier) rebuildIndex() error {
	matches, err := filepath.Glob(filepath.Join(t.baseDir, "emergency-*.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		cps, err := t.readSessionFile(path)
		if err != nil {
			// A corrupt emergency file must not block startup.
			continue
		}
		for id, cp := range cps {
			t.index[id] = cp.SessionID
		}
	}
	return nil
}

func (t *FileTier) readSessionFile(path string) (map[string]*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*Checkpoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cps map[string]*Checkpoint
	if err := json.Unmarshal(data, &cps); err != nil {
		return nil, err
	}
	if cps == nil {
		cps = map[string]*Checkpoint{}
	}
	return cps, nil
}

// writeFileAtomic writes via a temp file then renames over the target.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (t *FileTier) sessionFile(sessionID string) string {
	return filepath.Join(t.baseDir, fmt.Sprintf("emergency-%s.json", sessionID))
}

func (t *FileTier) sessionRecordFile(sessionID string) string {
	return filepath.Join(t.baseDir, fmt.Sprintf("session-%s.json", sessionID))
}

// Name implements Tier.
func (t *FileTier) Name() string { return "emergency_file" }

// SaveCheckpoint merges the checkpoint into its session's emergency file.
func (t *FileTier) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStoreClosed
	}

	path := t.sessionFile(cp.SessionID)
	cps, err := t.readSessionFile(path)
	if err != nil {
		// Corrupt file: start a fresh one rather than losing the write.
		cps = map[string]*Checkpoint{}
	}
	cps[cp.ID] = cp

	data, err := json.MarshalIndent(cps, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	t.index[cp.ID] = cp.SessionID
	return nil
}

// LoadCheckpoint loads a checkpoint by id via the in-memory index.
func (t *FileTier) LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}

	sessionID, ok := t.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	cps, err := t.readSessionFile(t.sessionFile(sessionID))
	if err != nil {
		return nil, err
	}
	cp, ok := cps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cp, nil
}

// DeleteCheckpoint removes a checkpoint from its session file.
func (t *FileTier) DeleteCheckpoint(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStoreClosed
	}

	sessionID, ok := t.index[id]
	if !ok {
		return nil
	}
	path := t.sessionFile(sessionID)
	cps, err := t.readSessionFile(path)
	if err != nil {
		return err
	}
	delete(cps, id)
	delete(t.index, id)

	data, err := json.MarshalIndent(cps, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// SaveSessionRecord writes the session record file.
func (t *FileTier) SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStoreClosed
	}
	return writeFileAtomic(t.sessionRecordFile(sessionID), data)
}

// LoadSessionRecord reads the session record file.
func (t *FileTier) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(t.sessionRecordFile(sessionID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Ping reports whether the tier is open.
func (t *FileTier) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the tier closed.
func (t *FileTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
