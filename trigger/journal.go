package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CycleRecord summarizes one scan cycle for operational diagnosis. Records
// live in a local badger journal, not in Postgres: they are node-local
// observability data, not business state.
type CycleRecord struct {
	CycleID     string    `json:"cycle_id"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
	Contracts   int       `json:"contracts_evaluated"`
	Tandas      int       `json:"tandas_evaluated"`
	Created     int       `json:"orders_created"`
	Failed      int       `json:"attempts_failed"`
	ProcessedBy string    `json:"processed_by"`
}

// Journal is an append-only badger log of scan cycles.
type Journal struct {
	db *badger.DB
}

func OpenJournal(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening scan journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one cycle record keyed by its start time.
func (j *Journal) Append(rec CycleRecord) error {
	if j == nil || j.db == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Appendf(nil, "scan/%020d", rec.StartedAt.UnixNano())
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

// Tail returns up to n most recent cycle records, newest first.
func (j *Journal) Tail(n int) ([]CycleRecord, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	var out []CycleRecord
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte("scan/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte("scan/\xff")); it.Valid() && len(out) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec CycleRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
