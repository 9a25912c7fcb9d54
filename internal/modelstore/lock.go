package modelstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const lockDirName = ".lock"

// tokenLock is a cross-process lock backed by an exclusive mkdir.
type tokenLock struct {
	path string
}

func acquireLock(tokenDir string, timeout, staleAfter time.Duration) (*tokenLock, error) {
	path := filepath.Join(tokenDir, lockDirName)
	deadline := time.Now().Add(timeout)
	for {
		err := os.Mkdir(path, 0755)
		if err == nil {
			writeOwner(path)
			return &tokenLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		// A lock whose holder died is reclaimed after staleAfter.
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			reclaimStale(path, info)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// reclaimStale removes the lock at path only if it is still the directory
// observed as stale. The lock is first renamed aside so a waiter acting on an
// outdated observation cannot delete a lock another waiter just created.
func reclaimStale(path string, seen os.FileInfo) bool {
	aside := fmt.Sprintf("%s.stale-%s", path, uuid.NewString())
	if err := os.Rename(path, aside); err != nil {
		return false
	}
	moved, err := os.Stat(aside)
	if err == nil && os.SameFile(seen, moved) && moved.ModTime().Equal(seen.ModTime()) {
		os.RemoveAll(aside)
		return true
	}
	// someone else's fresh lock; put it back unless the slot was taken meanwhile
	if err := os.Rename(aside, path); err != nil {
		os.RemoveAll(aside)
	}
	return false
}

func (l *tokenLock) release() error {
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

func writeOwner(path string) {
	hostname, _ := os.Hostname()
	info := map[string]interface{}{
		"pid":       os.Getpid(),
		"hostname":  hostname,
		"timestamp": time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(path, "owner.json"), data, 0644)
}
