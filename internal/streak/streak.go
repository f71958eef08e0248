// Package streak tracks consecutive exercise days per user.
package streak

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainer-bot/internal/calendar"
	"trainer-bot/internal/core/ports"
)

const keyPrefix = "exercise_history_"

// Record is the durable streak state of one user. Days is zero exactly when
// LastTrainingDate is zero.
type Record struct {
	LastTrainingDate calendar.Date `json:"lastTrainingDate"`
	ConsecutiveDays  int           `json:"consecutiveDays"`
	Notes            string        `json:"notes"`
}

func (r Record) HasHistory() bool { return !r.LastTrainingDate.IsZero() }

// Next is the streak value a new post would produce.
type Next struct {
	Date calendar.Date
	Days int
}

// ComputeNext derives the streak after a post made at postTime. A post that
// maps to an earlier date than the stored one leaves the streak untouched.
func ComputeNext(postTime time.Time, prior Record) Next {
	date := calendar.ExerciseDate(calendar.ToLocal(postTime))
	if !prior.HasHistory() {
		return Next{Date: date, Days: 1}
	}
	diff := calendar.DaysBetween(prior.LastTrainingDate, date)
	switch {
	case diff == 0:
		return Next{Date: date, Days: prior.ConsecutiveDays}
	case diff == 1:
		return Next{Date: date, Days: prior.ConsecutiveDays + 1}
	case diff < 0:
		return Next{Date: prior.LastTrainingDate, Days: prior.ConsecutiveDays}
	default:
		return Next{Date: date, Days: 1}
	}
}

// Tracker loads and saves records in the key-value store.
type Tracker struct {
	store ports.Storage
}

func NewTracker(store ports.Storage) *Tracker {
	return &Tracker{store: store}
}

func Key(userID string) string { return keyPrefix + userID }

// Load returns the stored record or an empty one.
func (t *Tracker) Load(ctx context.Context, userID string) (Record, error) {
	raw, ok, err := t.store.Get(ctx, Key(userID))
	if err != nil {
		return Record{}, fmt.Errorf("read streak %s: %w", userID, err)
	}
	if !ok || raw == "" {
		return Record{}, nil
	}
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, fmt.Errorf("decode streak %s: %w", userID, err)
	}
	if r.LastTrainingDate.IsZero() {
		r.ConsecutiveDays = 0
	}
	return r, nil
}

// Save overwrites the record. Last write wins.
func (t *Tracker) Save(ctx context.Context, userID string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := t.store.Put(ctx, Key(userID), string(data)); err != nil {
		return fmt.Errorf("write streak %s: %w", userID, err)
	}
	return nil
}

// Apply folds a processed evaluation into prior. Notes are only replaced when
// the model produced new ones.
func Apply(prior Record, next Next, notes string) Record {
	r := Record{
		LastTrainingDate: next.Date,
		ConsecutiveDays:  next.Days,
		Notes:            prior.Notes,
	}
	if notes != "" {
		r.Notes = notes
	}
	return r
}
