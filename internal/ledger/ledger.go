// Package ledger records which posts and notifications have already been
// answered so repeated runs do not reply twice.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainer-bot/internal/core/ports"
)

const (
	PostsKey         = "processed_posts"
	NotificationsKey = "processed_notifications"

	// Retention is how long a record is kept. A duplicate reply to an item
	// older than this is tolerated.
	Retention = 7 * 24 * time.Hour
)

// Record is one handled item.
type Record struct {
	URI         string    `json:"uri"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Ledger is an append-only list of records stored under a single key.
type Ledger struct {
	key   string
	store ports.Storage
}

func New(store ports.Storage, key string) *Ledger {
	return &Ledger{key: key, store: store}
}

func (l *Ledger) Key() string { return l.key }

func (l *Ledger) load(ctx context.Context) ([]Record, error) {
	raw, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", l.key, err)
	}
	return records, nil
}

func (l *Ledger) save(ctx context.Context, records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, l.key, string(data)); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.key, err)
	}
	return nil
}

// Contains reports whether uri has been processed. On error the caller decides
// the fallback; the orchestrator treats it as "not processed".
func (l *Ledger) Contains(ctx context.Context, uri string) (bool, error) {
	records, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.URI == uri {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot loads the ledger once and returns a lookup set, so a batch does
// not re-read the store per item.
func (l *Ledger) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	records, err := l.load(ctx)
	if err != nil {
		return map[string]struct{}{}, err
	}
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[r.URI] = struct{}{}
	}
	return set, nil
}

// MarkProcessed appends uri. Existing records are never rewritten; a uri that
// is already present is left alone.
func (l *Ledger) MarkProcessed(ctx context.Context, uri string, at time.Time) error {
	records, err := l.load(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.URI == uri {
			return nil
		}
	}
	records = append(records, Record{URI: uri, ProcessedAt: at.UTC()})
	return l.save(ctx, records)
}

// Prune drops records older than horizon relative to now and returns how
// many were removed. Nothing is written when nothing expired.
func (l *Ledger) Prune(ctx context.Context, horizon time.Duration, now time.Time) (int, error) {
	records, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	kept := records[:0]
	for _, r := range records {
		if now.Sub(r.ProcessedAt) <= horizon {
			kept = append(kept, r)
		}
	}
	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, l.save(ctx, kept)
}
