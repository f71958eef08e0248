// Package schedule persists the evaluation/reminder timestamps and decides
// when an inactivity reminder is due.
package schedule

import (
	"context"
	"fmt"
	"time"

	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
)

const (
	LastEvaluationKey = "last_evaluation_time"
	LastReminderKey   = "last_reminder_time"
)

// StateStore reads and writes domain.ScheduleState.
type StateStore struct {
	store ports.Storage
}

func NewStateStore(store ports.Storage) *StateStore {
	return &StateStore{store: store}
}

func (s *StateStore) Load(ctx context.Context) (domain.ScheduleState, error) {
	var st domain.ScheduleState
	var err error
	if st.LastEvaluationTime, err = s.loadTime(ctx, LastEvaluationKey); err != nil {
		return st, err
	}
	if st.LastReminderTime, err = s.loadTime(ctx, LastReminderKey); err != nil {
		return st, err
	}
	return st, nil
}

func (s *StateStore) SaveLastEvaluation(ctx context.Context, t time.Time) error {
	return s.saveTime(ctx, LastEvaluationKey, t)
}

func (s *StateStore) SaveLastReminder(ctx context.Context, t time.Time) error {
	return s.saveTime(ctx, LastReminderKey, t)
}

func (s *StateStore) loadTime(ctx context.Context, key string) (*time.Time, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &t, nil
}

func (s *StateStore) saveTime(ctx context.Context, key string, t time.Time) error {
	if err := s.store.Put(ctx, key, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
