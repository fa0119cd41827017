// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists scanner state in an embedded BadgerDB.
//
// Stored state survives restarts: per-tab scan statuses, the ignore rule
// list, the active detection mode, and the install identity. The verdict
// cache and live task table are deliberately NOT stored here; they are
// in-memory only and reset on restart.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

const (
	statusKeyPrefix = "detection_"
	rulesKey        = "ignoreRules"
	modeKey         = "activeMode"
	installIDKey    = "installId"
	userEmailKey    = "userEmail"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: not found")

// Config holds configuration for the scanner's embedded database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory
	// is true, required otherwise.
	Path string

	// InMemory disables disk persistence. Used in tests.
	InMemory bool

	// SyncWrites forces a disk sync on every write.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal log output. If nil the
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production settings for a persistent store.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// Store is the scanner's persistence layer.
//
// All methods are safe for concurrent use; BadgerDB provides the
// transaction isolation.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens the store, creating the database directory if needed.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("storage: path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("Badger value log GC error", "error", err)
			}
		}
	}
}

// SaveStatus persists the scan status for a tab.
func (s *Store) SaveStatus(tabID int, status datatypes.PersistedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("storage: marshal status for tab %d: %w", tabID, err)
	}
	return s.setRaw(statusKey(tabID), data)
}

// LoadStatus returns the stored status for a tab, or ErrNotFound.
func (s *Store) LoadStatus(tabID int) (datatypes.PersistedStatus, error) {
	var status datatypes.PersistedStatus
	data, err := s.getRaw(statusKey(tabID))
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("storage: unmarshal status for tab %d: %w", tabID, err)
	}
	return status, nil
}

// DeleteStatus removes the stored status for a tab. Missing keys are
// not an error.
func (s *Store) DeleteStatus(tabID int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(statusKey(tabID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// StatusTabIDs lists the tab IDs that have a stored status.
func (s *Store) StatusTabIDs() ([]int, error) {
	var ids []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(statusKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id, err := strconv.Atoi(strings.TrimPrefix(key, statusKeyPrefix))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// SaveRules persists the full ignore rule list.
func (s *Store) SaveRules(rules []datatypes.IgnoreRule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("storage: marshal ignore rules: %w", err)
	}
	return s.setRaw(rulesKey, data)
}

// LoadRules returns the stored ignore rules. An absent key yields an
// empty list, not an error.
func (s *Store) LoadRules() ([]datatypes.IgnoreRule, error) {
	data, err := s.getRaw(rulesKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []datatypes.IgnoreRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("storage: unmarshal ignore rules: %w", err)
	}
	return rules, nil
}

// SaveMode persists the active detection mode name.
func (s *Store) SaveMode(mode string) error {
	return s.setRaw(modeKey, []byte(mode))
}

// LoadMode returns the stored detection mode, or "" when none was saved.
func (s *Store) LoadMode() (string, error) {
	data, err := s.getRaw(modeKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// InstallID returns the stable install identifier, minting and storing
// one on first call.
func (s *Store) InstallID() (string, error) {
	data, err := s.getRaw(installIDKey)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id := uuid.NewString()
	if err := s.setRaw(installIDKey, []byte(id)); err != nil {
		return "", err
	}
	slog.Info("Minted new install ID", "install_id", id)
	return id, nil
}

// SaveUserEmail persists the user email sent with cloud scan requests.
func (s *Store) SaveUserEmail(email string) error {
	return s.setRaw(userEmailKey, []byte(email))
}

// UserEmail returns the stored user email, or "" when none was saved.
func (s *Store) UserEmail() (string, error) {
	data, err := s.getRaw(userEmailKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func statusKey(tabID int) string {
	return statusKeyPrefix + strconv.Itoa(tabID)
}

func (s *Store) setRaw(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) getRaw(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
