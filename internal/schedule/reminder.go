package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
)

const (
	DefaultInitialThreshold = 72 * time.Hour
	DefaultRepeatInterval   = 24 * time.Hour
)

// Due reports whether a reminder should go out at now. Nothing is due before
// the first evaluation. After the initial threshold one reminder is sent, then
// at most one per repeat interval until a new evaluation resets the clock.
func Due(st domain.ScheduleState, now time.Time, initial, repeat time.Duration) bool {
	if st.LastEvaluationTime == nil {
		return false
	}
	if now.Sub(*st.LastEvaluationTime) <= initial {
		return false
	}
	if st.LastReminderTime != nil && st.LastReminderTime.After(*st.LastEvaluationTime) {
		return now.Sub(*st.LastReminderTime) > repeat
	}
	return true
}

// ReminderComposer writes the reminder text.
type ReminderComposer interface {
	ComposeReminder(ctx context.Context, handle string, now time.Time, since time.Duration) (string, error)
}

// Scheduler sends inactivity reminders for the monitored account.
type Scheduler struct {
	Social   ports.SocialClient
	Composer ReminderComposer
	State    *StateStore
	Logger   *zap.Logger

	MonitoredDID string
	Initial      time.Duration
	Repeat       time.Duration
}

// Run sends a reminder if one is due and reports whether it did. Errors leave
// last_reminder_time untouched so the next run retries.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (bool, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	st, err := s.State.Load(ctx)
	if err != nil {
		return false, err
	}
	if !Due(st, now, s.initial(), s.repeat()) {
		log.Debug("Reminder not due",
			zap.Timep("last_evaluation", st.LastEvaluationTime),
			zap.Timep("last_reminder", st.LastReminderTime))
		return false, nil
	}

	profile, err := s.Social.GetProfile(ctx, s.MonitoredDID)
	if err != nil {
		return false, fmt.Errorf("get profile: %w", err)
	}
	text, err := s.Composer.ComposeReminder(ctx, profile.Handle, now, now.Sub(*st.LastEvaluationTime))
	if err != nil {
		return false, fmt.Errorf("compose reminder: %w", err)
	}
	ref, err := s.Social.Post(ctx, text)
	if err != nil {
		return false, fmt.Errorf("post reminder: %w", err)
	}
	log.Info("Reminder posted", zap.String("uri", ref.URI), zap.String("handle", profile.Handle))

	if err := s.State.SaveLastReminder(ctx, now); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Scheduler) initial() time.Duration {
	if s.Initial <= 0 {
		return DefaultInitialThreshold
	}
	return s.Initial
}

func (s *Scheduler) repeat() time.Duration {
	if s.Repeat <= 0 {
		return DefaultRepeatInterval
	}
	return s.Repeat
}
