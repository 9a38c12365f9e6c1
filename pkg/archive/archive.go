// Package archive persists captured photos and their receipts on disk and keeps
// a small JSON ledger of recent captures.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wachiwi/potboy/pkg/frame"
)

const (
	PhotoDir   = "received_images"
	ReceiptDir = "output"
	ledgerFile = "captures.json"

	stampLayout = "20060102_150405"
)

// Record describes one persisted photo/receipt pair.
type Record struct {
	ID        string    `json:"id"`
	Stamp     string    `json:"stamp"`
	Photo     string    `json:"photo"`
	Receipt   string    `json:"receipt,omitempty"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Store writes into <dir>/received_images and <dir>/output.
type Store struct {
	dir       string
	retention time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// New creates a store rooted at dir. Ledger entries older than retention are
// dropped on write and by Prune; a zero retention keeps everything.
func New(dir string, retention time.Duration) *Store {
	return &Store{dir: dir, retention: retention, now: time.Now}
}

func (s *Store) Dir() string {
	return s.dir
}

// Save persists photo and receipt under one timestamp.
func (s *Store) Save(photo, receipt frame.Frame) (Record, error) {
	rec, err := s.SavePhoto(photo)
	if err != nil {
		return Record{}, err
	}
	return s.SaveReceipt(rec, receipt)
}

// SavePhoto writes the photo under a fresh, collision-free timestamp.
func (s *Store) SavePhoto(photo frame.Frame) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.dir, PhotoDir), 0755); err != nil {
		return Record{}, err
	}

	at := s.now()
	base := at.Format(stampLayout)
	stamp := base
	for i := 1; ; i++ {
		path := filepath.Join(s.dir, PhotoDir, stamp+"."+photo.Format.Ext())
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			stamp = fmt.Sprintf("%s_%03d", base, i)
			continue
		}
		if err != nil {
			return Record{}, err
		}
		_, werr := f.Write(photo.Data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return Record{}, fmt.Errorf("failed to write photo: %w", werr)
		}
		return Record{
			ID:        uuid.NewString(),
			Stamp:     stamp,
			Photo:     path,
			Bytes:     photo.Len(),
			Timestamp: at,
		}, nil
	}
}

// SaveReceipt writes the receipt next to an already saved photo and records the pair.
func (s *Store) SaveReceipt(rec Record, receipt frame.Frame) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, ReceiptDir, "receipt_"+rec.Stamp+"."+receipt.Format.Ext())
	if err := ensureDir(path); err != nil {
		return Record{}, err
	}
	if err := os.WriteFile(path, receipt.Data, 0644); err != nil {
		return Record{}, fmt.Errorf("failed to write receipt: %w", err)
	}
	rec.Receipt = path

	records, err := s.readLedger()
	if err != nil {
		return Record{}, err
	}
	records = append(records, rec)
	if err := s.writeLedger(s.recent(records)); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Records returns the ledger, oldest first.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLedger()
}

// Prune drops ledger entries outside the retention window and returns how many were removed.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLedger()
	if err != nil {
		return 0, err
	}
	kept := s.recent(records)
	if len(kept) == len(records) {
		return 0, nil
	}
	return len(records) - len(kept), s.writeLedger(kept)
}

func (s *Store) recent(records []Record) []Record {
	if s.retention <= 0 {
		return records
	}
	cutoff := s.now().Add(-s.retention)
	kept := []Record{}
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

func (s *Store) readLedger() ([]Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ledgerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupted ledger, start fresh. The images themselves are untouched.
		return []Record{}, nil
	}
	return records, nil
}

func (s *Store) writeLedger(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, ledgerFile)
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ensureDir creates the parent directory of path if it doesn't exist
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
