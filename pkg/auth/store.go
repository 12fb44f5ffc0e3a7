// Package auth holds the server's credential store and the auth-token
// generator.
package auth

import (
	"bufio"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/wentianbu/sft/internal/logger"
)

// CredentialStore verifies login credentials against a line-oriented user
// file. Each line is "username|md5hex(password)"; blank lines and lines
// starting with '#' are skipped.
//
// The store is safe for concurrent use. Watch keeps it in sync with edits to
// the file without a server restart.
type CredentialStore struct {
	path string

	mu    sync.RWMutex
	users map[string]string // username -> md5 hex digest, lowercase

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadCredentialStore reads the user file at path.
func LoadCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads the user file, replacing the in-memory table atomically.
func (s *CredentialStore) reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open user file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, digest, ok := strings.Cut(line, "|")
		if !ok {
			logger.Warn("Skipping malformed line %d in user file %s", lineNo, s.path)
			continue
		}
		digest = strings.ToLower(strings.TrimSpace(digest))
		if len(digest) != md5.Size*2 {
			logger.Warn("Skipping user %q: bad digest length on line %d", name, lineNo)
			continue
		}
		users[strings.TrimSpace(name)] = digest
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read user file: %w", err)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	logger.Debug("Loaded %d user(s) from %s", len(users), s.path)
	return nil
}

// Verify checks a plaintext password against the stored digest for username.
// A missing user and a wrong password are indistinguishable to the caller.
func (s *CredentialStore) Verify(username, password string) bool {
	s.mu.RLock()
	stored, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	sum := md5.Sum([]byte(password))
	supplied := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}

// Len returns the number of loaded users.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Watch reloads the store whenever the user file changes on disk. Call Close
// to stop watching.
func (s *CredentialStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch user file: %w", err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if err := s.reload(); err != nil {
						logger.Warn("Failed to reload user file: %v", err)
					} else {
						logger.Info("User file reloaded (%d users)", s.Len())
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("User file watcher error: %v", err)
			case <-s.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if running.
func (s *CredentialStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}
