// Package journal appends an immutable JSON-lines record of run progress.
// Each entry captures one scheduling decision or outcome, so an operator
// can reconstruct what a run did account by account.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Journal event types.
const (
	EventRunStarted       = "run_started"
	EventAccountQueued    = "account_queued"
	EventAccountScanned   = "account_scanned"
	EventAccountFailed    = "account_failed"
	EventAttemptCompleted = "attempt_completed"
	EventRunCompleted     = "run_completed"
)

// Entry is one journal record.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Sequence  int64          `json:"seq"`
	Event     string         `json:"event"`
	ScanID    string         `json:"scan_id"`
	AccountID string         `json:"account_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Journal is an append-only journal file. Safe for concurrent appends.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	seq  int64
}

// Open opens or creates the journal at path, resuming the sequence from
// existing entries.
func Open(path string) (*Journal, error) {
	seq, err := lastSequence(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &Journal{file: f, seq: seq}, nil
}

// Append stamps e with the current time and next sequence number and writes
// it. Entries are fsynced individually; the append rate is per account, not
// per resource, so durability wins over throughput here.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e.Sequence = j.seq
	e.Timestamp = time.Now().UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending journal entry: %w", err)
	}
	return j.file.Sync()
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Replay streams every entry in the journal at path through fn, in order.
func Replay(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("corrupt journal entry at line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func lastSequence(path string) (int64, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}
	var seq int64
	err := Replay(path, func(e Entry) error {
		if e.Sequence > seq {
			seq = e.Sequence
		}
		return nil
	})
	return seq, err
}
