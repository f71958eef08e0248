// Package orchestrator runs one polling pass of the bot: reply to new
// check-in posts, answer mentions and replies, and send reminders.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"trainer-bot/internal/brain"
	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
	"trainer-bot/internal/ledger"
	"trainer-bot/internal/schedule"
	"trainer-bot/internal/streak"
)

const (
	DefaultLookback          = 24 * time.Hour
	DefaultSearchLimit       = 25
	DefaultNotificationLimit = 50
	DefaultPruneProbability  = 0.1

	searchAlignment = 5 * time.Minute
)

var errEmptyReply = errors.New("model returned an empty reply")

// Composer is the subset of brain.Composer the orchestrator needs.
type Composer interface {
	ComposeEvaluation(ctx context.Context, item domain.Item, prior streak.Record, next streak.Next) (string, error)
	ComposeConversational(ctx context.Context, item domain.Item) (string, error)
}

// ReminderRunner sends a reminder when one is due.
type ReminderRunner interface {
	Run(ctx context.Context, now time.Time) (bool, error)
}

type Options struct {
	MonitoredDID      string
	Hashtag           string
	Lookback          time.Duration
	SearchLimit       int
	NotificationLimit int
	PruneProbability  float64
}

func (o *Options) applyDefaults() {
	if o.Hashtag == "" {
		o.Hashtag = brain.Hashtag
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = DefaultSearchLimit
	}
	if o.NotificationLimit <= 0 {
		o.NotificationLimit = DefaultNotificationLimit
	}
	// Negative disables pruning.
	if o.PruneProbability == 0 {
		o.PruneProbability = DefaultPruneProbability
	}
}

// Orchestrator wires the ledgers, streak tracker and composer to the social
// client. Fields are exported so tests can swap the clock and randomness.
type Orchestrator struct {
	Social        ports.SocialClient
	Composer      Composer
	Posts         *ledger.Ledger
	Notifications *ledger.Ledger
	Streaks       *streak.Tracker
	Schedule      *schedule.StateStore
	Reminder      ReminderRunner
	Notifier      ports.Notifier
	Logger        *zap.Logger

	Now  func() time.Time
	Rand func() float64

	opts Options
}

// New builds an Orchestrator whose ledgers, streaks and schedule share store.
func New(social ports.SocialClient, composer Composer, store ports.Storage, reminder ReminderRunner, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Orchestrator{
		Social:        social,
		Composer:      composer,
		Posts:         ledger.New(store, ledger.PostsKey),
		Notifications: ledger.New(store, ledger.NotificationsKey),
		Streaks:       streak.NewTracker(store),
		Schedule:      schedule.NewStateStore(store),
		Reminder:      reminder,
		Logger:        logger,
		Now:           time.Now,
		Rand:          rand.Float64,
		opts:          opts,
	}
}

func (o *Orchestrator) Options() Options { return o.opts }

// Run performs one pass. It never returns an error: failures are logged and
// recorded in the report, and the next scheduled run picks up whatever was
// left unprocessed.
func (o *Orchestrator) Run(ctx context.Context) (report domain.RunReport) {
	now := o.Now()
	report.StartedAt = now
	log := o.Logger.With(zap.Time("run_at", now))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Run panicked", zap.Any("panic", r), zap.Stack("stack"))
			report.Aborted = fmt.Sprintf("panic: %v", r)
		}
		log.Info("Run finished",
			zap.Int("posts_found", report.PostsFound),
			zap.Int("posts_replied", report.PostsReplied),
			zap.Int("notifications_replied", report.NotificationsReplied),
			zap.Int("failures", report.Failures),
			zap.Bool("reminder_sent", report.ReminderSent),
			zap.String("aborted", report.Aborted))
		o.notify(ctx, report)
	}()

	if err := o.Social.EnsureSession(ctx); err != nil {
		log.Error("Session unavailable, aborting run", zap.Error(err))
		report.Aborted = "session"
		return report
	}

	if err := o.processPosts(ctx, now, &report); err != nil {
		log.Error("Post search failed, aborting run", zap.Error(err))
		report.Aborted = "search"
		return report
	}

	if o.Rand() < o.opts.PruneProbability {
		report.Pruned = o.prune(ctx, now)
	}

	o.processNotifications(ctx, now, &report)

	if o.Reminder != nil {
		sent, err := o.Reminder.Run(ctx, now)
		if err != nil {
			log.Warn("Reminder failed", zap.Error(err))
			report.Failures++
		}
		report.ReminderSent = sent
	}
	return report
}

// searchWindow returns [until-lookback, until] with until rounded down to
// five minutes so consecutive runs ask for stable ranges.
func (o *Orchestrator) searchWindow(now time.Time) (time.Time, time.Time) {
	until := now.UTC().Truncate(searchAlignment)
	return until.Add(-o.opts.Lookback), until
}

func (o *Orchestrator) processPosts(ctx context.Context, now time.Time, report *domain.RunReport) error {
	since, until := o.searchWindow(now)
	items, err := o.Social.SearchPosts(ctx, domain.SearchQuery{
		Query:  o.opts.Hashtag,
		Author: o.opts.MonitoredDID,
		Since:  since,
		Until:  until,
		Limit:  o.opts.SearchLimit,
	})
	if err != nil {
		return err
	}
	report.PostsFound = len(items)

	seen, err := o.Posts.Snapshot(ctx)
	if err != nil {
		o.Logger.Warn("Post ledger unreadable, treating every post as new", zap.Error(err))
	}

	var pending []domain.Item
	for _, item := range items {
		if _, ok := seen[item.URI]; ok {
			continue
		}
		if o.opts.MonitoredDID != "" && item.AuthorDID != o.opts.MonitoredDID {
			continue
		}
		seen[item.URI] = struct{}{}
		pending = append(pending, item)
	}
	sortByCreated(pending)
	report.Skipped += len(items) - len(pending)

	var latest time.Time
	for _, item := range pending {
		log := o.Logger.With(zap.String("uri", item.URI))
		if err := o.evaluate(ctx, now, item, item.Ref(), item.Ref(), o.Posts); err != nil {
			log.Error("Failed to process post", zap.Error(err))
			report.Failures++
			continue
		}
		log.Info("Replied to post")
		report.PostsReplied++
		if item.CreatedAt.After(latest) {
			latest = item.CreatedAt
		}
	}

	if !latest.IsZero() {
		o.advanceEvaluation(ctx, latest)
	}
	return nil
}

// evaluate grades item, replies, then records the item in led and updates the
// author's streak with the item's own timestamp.
func (o *Orchestrator) evaluate(ctx context.Context, now time.Time, item domain.Item, parent, root domain.PostRef, led *ledger.Ledger) error {
	prior, err := o.Streaks.Load(ctx, item.AuthorDID)
	streakReadable := err == nil
	if err != nil {
		o.Logger.Warn("Streak unreadable, evaluating without history", zap.String("author", item.AuthorDID), zap.Error(err))
		prior = streak.Record{}
	}
	next := streak.ComputeNext(item.CreatedAt, prior)

	raw, err := o.Composer.ComposeEvaluation(ctx, item, prior, next)
	if err != nil {
		return err
	}
	resp := brain.Finalize(raw, domain.ModeEvaluation)
	if resp.DisplayText == "" {
		return errEmptyReply
	}

	if _, err := o.Social.Reply(ctx, resp.DisplayText, parent, root); err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	if err := led.MarkProcessed(ctx, item.URI, now); err != nil {
		o.Logger.Warn("Failed to record processed item", zap.String("uri", item.URI), zap.Error(err))
	}
	// Writing a default record over unreadable history would reset the streak.
	if !streakReadable {
		return nil
	}
	updated := streak.Apply(prior, next, resp.HistoryNotes)
	if err := o.Streaks.Save(ctx, item.AuthorDID, updated); err != nil {
		o.Logger.Warn("Failed to save streak", zap.String("author", item.AuthorDID), zap.Error(err))
	}
	o.Logger.Debug("Streak updated",
		zap.String("author", item.AuthorDID),
		zap.Stringer("date", updated.LastTrainingDate),
		zap.Int("days", updated.ConsecutiveDays))
	return nil
}

func (o *Orchestrator) processNotifications(ctx context.Context, now time.Time, report *domain.RunReport) {
	notifs, err := o.Social.ListNotifications(ctx, o.opts.NotificationLimit)
	if err != nil {
		o.Logger.Warn("Notifications unavailable", zap.Error(err))
		return
	}

	handled, err := o.Notifications.Snapshot(ctx)
	if err != nil {
		o.Logger.Warn("Notification ledger unreadable", zap.Error(err))
	}
	posted, err := o.Posts.Snapshot(ctx)
	if err != nil {
		o.Logger.Warn("Post ledger unreadable", zap.Error(err))
	}

	self := o.Social.Self()
	// Older notifications would come back once their ledger entry is pruned.
	cutoff := now.Add(-ledger.Retention)
	var pending []domain.Notification
	for _, n := range notifs {
		if n.Reason != domain.ReasonMention && n.Reason != domain.ReasonReply {
			continue
		}
		if n.CreatedAt.Before(cutoff) {
			continue
		}
		if n.AuthorDID != o.opts.MonitoredDID || n.AuthorDID == self {
			continue
		}
		if _, ok := handled[n.URI]; ok {
			continue
		}
		if _, ok := posted[n.URI]; ok {
			continue
		}
		handled[n.URI] = struct{}{}
		pending = append(pending, n)
	}
	if len(pending) == 0 {
		return
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	report.NotificationsSeen = len(pending)

	var latest time.Time
	for _, n := range pending {
		log := o.Logger.With(zap.String("uri", n.URI), zap.String("reason", string(n.Reason)))
		mode, err := o.answerNotification(ctx, now, n, self)
		if err != nil {
			log.Error("Failed to process notification", zap.Error(err))
			report.Failures++
			continue
		}
		log.Info("Replied to notification", zap.String("mode", string(mode)))
		report.NotificationsReplied++
		if n.CreatedAt.After(latest) {
			latest = n.CreatedAt
		}
	}

	if !latest.IsZero() {
		o.advanceEvaluation(ctx, latest)
	}
	if err := o.Social.UpdateSeenNotifications(ctx); err != nil {
		o.Logger.Warn("Failed to mark notifications seen", zap.Error(err))
	}
}

func (o *Orchestrator) answerNotification(ctx context.Context, now time.Time, n domain.Notification, self string) (domain.Mode, error) {
	thread, err := o.Social.GetThread(ctx, n.URI)
	if err != nil {
		o.Logger.Warn("Thread unavailable, using the notification record", zap.String("uri", n.URI), zap.Error(err))
	}
	parent := n.Ref()
	root := threadRoot(n, thread)
	mode := replyMode(n, thread, self)

	if mode == domain.ModeEvaluation {
		item := n.Item
		// Notification records carry no embeds; the thread view does.
		if thread != nil && len(item.ImageURLs) == 0 {
			item.ImageURLs = thread.Post.ImageURLs
		}
		return mode, o.evaluate(ctx, now, item, parent, root, o.Notifications)
	}

	raw, err := o.Composer.ComposeConversational(ctx, n.Item)
	if err != nil {
		return mode, err
	}
	resp := brain.Finalize(raw, domain.ModeConversational)
	if resp.DisplayText == "" {
		return mode, errEmptyReply
	}
	if _, err := o.Social.Reply(ctx, resp.DisplayText, parent, root); err != nil {
		return mode, fmt.Errorf("reply: %w", err)
	}
	if err := o.Notifications.MarkProcessed(ctx, n.URI, now); err != nil {
		o.Logger.Warn("Failed to record processed notification", zap.String("uri", n.URI), zap.Error(err))
	}
	return mode, nil
}

// threadRoot picks the conversation root so deep replies still point at the
// top-level post.
func threadRoot(n domain.Notification, thread *domain.Thread) domain.PostRef {
	if thread != nil && thread.Root != nil && !thread.Root.IsZero() {
		return *thread.Root
	}
	if n.ReplyRoot != nil && !n.ReplyRoot.IsZero() {
		return *n.ReplyRoot
	}
	return n.Ref()
}

// replyMode is conversational when the user answered one of the bot's posts.
func replyMode(n domain.Notification, thread *domain.Thread, self string) domain.Mode {
	if self == "" {
		return domain.ModeEvaluation
	}
	if thread != nil {
		if thread.ParentAuthorDID == self {
			return domain.ModeConversational
		}
		return domain.ModeEvaluation
	}
	if n.ReplyParent != nil && authority(n.ReplyParent.URI) == self {
		return domain.ModeConversational
	}
	return domain.ModeEvaluation
}

// authority returns the repo DID of an at:// URI.
func authority(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	did, _, _ := strings.Cut(rest, "/")
	return did
}

// advanceEvaluation moves last_evaluation_time forward, never back.
func (o *Orchestrator) advanceEvaluation(ctx context.Context, t time.Time) {
	st, err := o.Schedule.Load(ctx)
	if err != nil {
		o.Logger.Warn("Schedule state unreadable", zap.Error(err))
	}
	if st.LastEvaluationTime != nil && !t.After(*st.LastEvaluationTime) {
		return
	}
	if err := o.Schedule.SaveLastEvaluation(ctx, t); err != nil {
		o.Logger.Warn("Failed to save last evaluation time", zap.Error(err))
	}
}

func (o *Orchestrator) prune(ctx context.Context, now time.Time) int {
	total := 0
	for _, l := range []*ledger.Ledger{o.Posts, o.Notifications} {
		n, err := l.Prune(ctx, ledger.Retention, now)
		if err != nil {
			o.Logger.Warn("Ledger prune failed", zap.String("ledger", l.Key()), zap.Error(err))
			continue
		}
		total += n
	}
	o.Logger.Info("Ledgers pruned", zap.Int("removed", total))
	return total
}

func (o *Orchestrator) notify(ctx context.Context, r domain.RunReport) {
	if o.Notifier == nil {
		return
	}
	if r.PostsReplied == 0 && r.NotificationsReplied == 0 && !r.ReminderSent && r.Failures == 0 && r.Aborted == "" {
		return
	}
	body := fmt.Sprintf("posts: %d/%d replied\nnotifications: %d/%d replied\nreminder: %t\nfailures: %d",
		r.PostsReplied, r.PostsFound, r.NotificationsReplied, r.NotificationsSeen, r.ReminderSent, r.Failures)
	if r.Aborted != "" {
		body += "\naborted: " + r.Aborted
	}
	if err := o.Notifier.Notify(ctx, "Run "+r.StartedAt.Format(time.RFC3339), body); err != nil {
		o.Logger.Warn("Operator notification failed", zap.Error(err))
	}
}

func sortByCreated(items []domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
