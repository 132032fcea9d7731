package credstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore keeps one decimal user id per line in an append-only file.
// Appends are serialized in-process by a mutex and across processes by an
// advisory lock on "<path>.lock".
type FileStore struct {
	path string
	lock *flock.Flock

	mu    sync.Mutex
	users map[int64]struct{}
}

var _ Store = (*FileStore)(nil)

// OpenFile loads the record file at path, creating it when missing.
func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("open credential file: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open credential file: %w", err)
	}
	users, err := readUsers(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("load credential file %s: %w", path, err)
	}

	return &FileStore{
		path:  path,
		lock:  flock.New(path + ".lock"),
		users: users,
	}, nil
}

// IsAuthorized answers from memory and re-reads the file on a miss so grants
// appended by another process become visible.
func (s *FileStore) IsAuthorized(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return true, nil
	}

	if err := s.lock.RLock(); err != nil {
		return false, unavailable("lock credential file", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	if err := s.reloadLocked(); err != nil {
		return false, err
	}
	_, ok := s.users[userID]
	return ok, nil
}

// Authorize appends userID unless it is already recorded. The append is
// fsynced before the in-memory set is updated.
func (s *FileStore) Authorize(_ context.Context, userID int64) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return AlreadyPresent, nil
	}

	if err := s.lock.Lock(); err != nil {
		return 0, unavailable("lock credential file", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	if err := s.reloadLocked(); err != nil {
		return 0, err
	}
	if _, ok := s.users[userID]; ok {
		return AlreadyPresent, nil
	}

	if err := s.appendLocked(userID); err != nil {
		return 0, err
	}
	s.users[userID] = struct{}{}
	return Added, nil
}

// List returns every recorded user id in ascending order.
func (s *FileStore) List(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return nil, unavailable("lock credential file", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close releases the lock handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) reloadLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		return unavailable("open credential file", err)
	}
	defer f.Close()

	users, err := readUsers(f)
	if err != nil {
		return unavailable("read credential file", err)
	}
	s.users = users
	return nil
}

func (s *FileStore) appendLocked(userID int64) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return unavailable("open credential file", err)
	}

	line := strconv.FormatInt(userID, 10) + "\n"
	needsNewline, err := missingTrailingNewline(s.path)
	if err != nil {
		_ = f.Close()
		return unavailable("inspect credential file", err)
	}
	if needsNewline {
		line = "\n" + line
	}

	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return unavailable("append credential", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return unavailable("sync credential file", err)
	}
	if err := f.Close(); err != nil {
		return unavailable("close credential file", err)
	}
	return nil
}

func missingTrailingNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return last[0] != '\n', nil
}

func readUsers(r io.Reader) (map[int64]struct{}, error) {
	users := make(map[int64]struct{})
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid user id %q", lineNo, line)
		}
		users[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
