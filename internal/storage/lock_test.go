package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeOwner(t *testing.T, lockPath string, owner LockOwner) {
	t.Helper()
	data, err := json.Marshal(owner)
	if err != nil {
		t.Fatalf("marshal owner: %v", err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
}

func TestServeLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guardian.db")

	lock, err := AcquireServeLock(dbPath, "test")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if lock.Path() != LockPath(dbPath) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}

	owner, err := ReadLockOwner(lock.Path())
	if err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if owner.PID != os.Getpid() || owner.Version != "test" {
		t.Errorf("unexpected owner %+v", owner)
	}

	// This process is alive, so a second acquire must fail
	if _, err := AcquireServeLock(dbPath, "test"); err == nil || !strings.Contains(err.Error(), "in use") {
		t.Errorf("expected in-use error, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second release should be a no-op, got %v", err)
	}
}

func TestServeLockInMemory(t *testing.T) {
	lock, err := AcquireServeLock(":memory:", "test")
	if err != nil || lock != nil {
		t.Fatalf("expected no lock for :memory:, got %v, %v", lock, err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("nil lock release should be a no-op, got %v", err)
	}
}

func TestServeLockTakesOverStaleLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guardian.db")
	hostname, err := os.Hostname()
	if err != nil {
		t.Skipf("no hostname: %v", err)
	}

	// Above the largest pid_max Linux allows, so no such process exists
	writeOwner(t, LockPath(dbPath), LockOwner{PID: 4194305, Hostname: hostname, StartedAt: time.Now()})

	lock, err := AcquireServeLock(dbPath, "test")
	if err != nil {
		t.Fatalf("expected stale lock to be taken over: %v", err)
	}
	defer lock.Release()

	owner, err := ReadLockOwner(lock.Path())
	if err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if owner.PID != os.Getpid() {
		t.Errorf("expected this process to own the lock, got PID %d", owner.PID)
	}
}

func TestServeLockRemoteOwnerIsRespected(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guardian.db")
	writeOwner(t, LockPath(dbPath), LockOwner{PID: 1, Hostname: "another-host.invalid", StartedAt: time.Now()})

	if _, err := AcquireServeLock(dbPath, "test"); err == nil {
		t.Error("expected a lock held on another host to block")
	}
}

func TestServeLockReleaseKeepsForeignLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guardian.db")
	lock, err := AcquireServeLock(dbPath, "test")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Someone else rewrote the lock after ours was taken over
	writeOwner(t, lock.Path(), LockOwner{PID: 1, Hostname: "another-host.invalid"})
	if err := lock.Release(); err == nil {
		t.Error("expected release to refuse a lock owned by another process")
	}
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Errorf("foreign lock should be left in place: %v", err)
	}
}
