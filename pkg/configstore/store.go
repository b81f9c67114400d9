// Package configstore records committed management commands: an in-memory
// history of table snapshots and an optional on-disk journal of the command
// lines in commit order.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/spp/pkg/mgmt"
)

// DefaultHistorySize is how many commits History keeps.
const DefaultHistorySize = 50

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	history  *History
	seq      uint64
	filePath string
}

// New creates a store. An empty filePath disables the journal.
func New(filePath string) *Store {
	return &Store{
		history:  NewHistory(DefaultHistorySize),
		filePath: filePath,
	}
}

// journalLine is one line of the on-disk journal.
type journalLine struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

// Record pushes a committed command and the resulting tables.
func (s *Store) Record(command string, tables mgmt.Dump) *HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := &HistoryEntry{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Command:   command,
		Tables:    tables,
	}
	s.history.Push(e)

	if s.filePath != "" {
		if err := s.appendJournal(e); err != nil {
			// Non-fatal: the commit already happened.
			slog.Warn("failed to append command journal", "path", s.filePath, "err", err)
		}
	}
	return e
}

func (s *Store) appendJournal(e *HistoryEntry) error {
	f, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	b, err := json.Marshal(journalLine{Seq: e.Seq, Timestamp: e.Timestamp, Command: e.Command})
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns the history, most recent first.
func (s *Store) List() []*HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.List()
}

// Len returns the number of retained commits.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Len()
}

// Compare returns a diff of the tables between the nth most recent commit
// and the one before it.
func (s *Store) Compare(n int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, err := s.history.Get(n)
	if err != nil {
		return "", err
	}
	prev, err := s.history.Get(n + 1)
	if err != nil {
		return "", fmt.Errorf("commit %d is the oldest retained", cur.Seq)
	}
	diff := cmp.Diff(prev.Tables, cur.Tables)
	if diff == "" {
		return "[no changes]\n", nil
	}
	return diff, nil
}
