package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// LockOwner identifies the guardian serve process that holds a database
type LockOwner struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ServeLock keeps a second `guardian serve` off the same SQLite file. Two watchdog
// loops on one database would both pass the deduplication and cooldown gates for
// the same node. A nil *ServeLock is valid and releases nothing.
type ServeLock struct {
	path  string
	owner LockOwner
}

// LockPath returns the lock file that guards dbPath
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireServeLock claims dbPath for this process. In-memory databases need no lock
// and return (nil, nil). A lock left by a process that no longer runs on this host
// is taken over.
func AcquireServeLock(dbPath, version string) (*ServeLock, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return nil, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := &ServeLock{
		path: LockPath(dbPath),
		owner: LockOwner{
			PID:       os.Getpid(),
			Hostname:  hostname,
			Version:   version,
			StartedAt: time.Now().UTC(),
		},
	}
	data, err := json.MarshalIndent(lock.owner, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock owner: %w", err)
	}

	// One retry after clearing a stale lock
	for attempt := 0; attempt < 2; attempt++ {
		err := writeNew(lock.path, data)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock %s: %w", lock.path, err)
		}

		holder, readErr := ReadLockOwner(lock.path)
		if readErr == nil && holder.running(hostname) {
			return nil, fmt.Errorf("database %s is in use by guardian %s (PID %d on %s since %s)",
				dbPath, holder.Version, holder.PID, holder.Hostname, holder.StartedAt.Format(time.RFC3339))
		}
		fmt.Printf("Storage: clearing stale lock %s\n", lock.path)
		if err := os.Remove(lock.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to clear stale lock %s: %w", lock.path, err)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock %s: lost race with another process", lock.path)
}

// ReadLockOwner decodes the owner record of an existing lock file
func ReadLockOwner(lockPath string) (*LockOwner, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var owner LockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("failed to parse lock %s: %w", lockPath, err)
	}
	return &owner, nil
}

// Path returns the lock file path
func (l *ServeLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release removes the lock file if this process still owns it
func (l *ServeLock) Release() error {
	if l == nil {
		return nil
	}
	holder, err := ReadLockOwner(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && (holder.PID != l.owner.PID || holder.Hostname != l.owner.Hostname) {
		return fmt.Errorf("lock %s now belongs to PID %d on %s", l.path, holder.PID, holder.Hostname)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock %s: %w", l.path, err)
	}
	return nil
}

func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// running reports whether the owner may still hold the database. Owners on
// another host cannot be checked and count as running.
func (o *LockOwner) running(localHost string) bool {
	if !strings.EqualFold(o.Hostname, localHost) {
		return true
	}
	if o.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(o.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
