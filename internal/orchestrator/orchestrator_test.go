package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-bot/internal/brain"
	"trainer-bot/internal/calendar"
	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports/portstest"
	"trainer-bot/internal/ledger"
	"trainer-bot/internal/schedule"
	"trainer-bot/internal/storage"
	"trainer-bot/internal/streak"
)

const (
	userDID = "did:plc:user"
	botDID  = "did:plc:bot"
)

type harness struct {
	o      *Orchestrator
	social *portstest.Social
	gen    *portstest.Generator
	images *portstest.Images
	store  *storage.MemoryStorage
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2025, 5, 7, 12, 3, 0, 0, time.UTC)
	social := &portstest.Social{
		SelfDID:  botDID,
		Profiles: map[string]domain.Profile{userDID: {DID: userDID, Handle: "user.bsky.social"}},
		Blobs:    map[string][]byte{"https://cdn/1.jpg": []byte("IMG")},
	}
	gen := &portstest.Generator{ModelName: "gemini-test", Responses: []string{"100点！素晴らしいです。\n---\n- その他：ランニング30分"}}
	images := &portstest.Images{}
	store := storage.NewMemoryStorage()
	composer := brain.NewComposer(gen, images, social, nil)
	reminder := &schedule.Scheduler{
		Social:       social,
		Composer:     composer,
		State:        schedule.NewStateStore(store),
		MonitoredDID: userDID,
	}
	o := New(social, composer, store, reminder, Options{MonitoredDID: userDID}, nil)
	o.Now = func() time.Time { return now }
	o.Rand = func() float64 { return 0.99 }
	return &harness{o: o, social: social, gen: gen, images: images, store: store, now: now}
}

func post(n int, created time.Time, images ...string) domain.Item {
	return domain.Item{
		URI:       "at://did:plc:user/app.bsky.feed.post/" + string(rune('a'+n)),
		CID:       "cid" + string(rune('a'+n)),
		AuthorDID: userDID,
		Text:      "筋トレ30分 #青空筋トレ部",
		CreatedAt: created,
		ImageURLs: images,
	}
}

func TestRun_EndToEndSinglePost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	created := h.now.Add(-2 * time.Hour)
	p := post(0, created, "https://cdn/1.jpg")
	h.social.Posts = []domain.Item{p}

	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.PostsReplied)
	assert.Zero(t, report.Failures)
	assert.Empty(t, report.Aborted)

	require.Len(t, h.social.Replies, 1)
	r := h.social.Replies[0]
	assert.Equal(t, "100点！素晴らしいです。", r.Text)
	assert.Equal(t, p.Ref(), r.Parent)
	assert.Equal(t, p.Ref(), r.Root)

	require.Len(t, h.gen.Calls, 1)
	assert.Len(t, h.gen.Calls[0], 2, "prompt plus one image")

	ok, err := h.o.Posts.Contains(ctx, p.URI)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := h.o.Streaks.Load(ctx, userDID)
	require.NoError(t, err)
	assert.Equal(t, calendar.ExerciseDate(calendar.ToLocal(created)), rec.LastTrainingDate)
	assert.Equal(t, 1, rec.ConsecutiveDays)
	assert.Equal(t, "ランニング30分", rec.Notes)

	st, err := h.o.Schedule.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastEvaluationTime)
	assert.True(t, created.Equal(*st.LastEvaluationTime))

	require.Len(t, h.social.Queries, 1)
	q := h.social.Queries[0]
	assert.Equal(t, brain.Hashtag, q.Query)
	assert.Equal(t, userDID, q.Author)
	assert.Equal(t, time.Date(2025, 5, 7, 12, 0, 0, 0, time.UTC), q.Until)
	assert.Equal(t, q.Until.Add(-24*time.Hour), q.Since)
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.social.Posts = []domain.Item{post(0, h.now.Add(-time.Hour))}

	h.o.Run(ctx)
	report := h.o.Run(ctx)

	assert.Len(t, h.social.Replies, 1)
	assert.Zero(t, report.PostsReplied)
	assert.Equal(t, 1, report.Skipped)

	rec, err := h.o.Streaks.Load(ctx, userDID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ConsecutiveDays)
}

func TestRun_ProcessesOldestFirstAndBuildsStreak(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	day := time.Date(2025, 5, 6, 20, 0, 0, 0, calendar.JST)
	// Search returns newest first.
	h.social.Posts = []domain.Item{
		post(1, day.Add(24*time.Hour)),
		post(0, day),
	}
	h.o.Now = func() time.Time { return day.Add(25 * time.Hour) }

	report := h.o.Run(ctx)
	require.Equal(t, 2, report.PostsReplied)
	assert.Equal(t, post(0, day).URI, h.social.Replies[0].Parent.URI)
	assert.Equal(t, post(1, day).URI, h.social.Replies[1].Parent.URI)

	rec, err := h.o.Streaks.Load(ctx, userDID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConsecutiveDays)
	assert.Equal(t, calendar.Date{Year: 2025, Month: time.May, Day: 7}, rec.LastTrainingDate)

	st, _ := h.o.Schedule.Load(ctx)
	assert.True(t, day.Add(24*time.Hour).Equal(*st.LastEvaluationTime))
}

func TestRun_PerItemFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bad := post(0, h.now.Add(-3*time.Hour))
	good := post(1, h.now.Add(-2*time.Hour))
	h.social.Posts = []domain.Item{bad, good}
	h.social.ReplyErr = map[string]error{bad.URI: errors.New("503")}

	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.PostsReplied)
	assert.Equal(t, 1, report.Failures)

	ok, _ := h.o.Posts.Contains(ctx, bad.URI)
	assert.False(t, ok, "failed post stays eligible for the next run")
	ok, _ = h.o.Posts.Contains(ctx, good.URI)
	assert.True(t, ok)
}

func TestRun_GenerationErrorSkipsItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.social.Posts = []domain.Item{post(0, h.now.Add(-time.Hour))}
	h.gen.Err = errors.New("500 backend")

	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.Failures)
	assert.Empty(t, h.social.Replies)
	_, ok, _ := h.store.Get(ctx, streak.Key(userDID))
	assert.False(t, ok)
}

func TestRun_SessionFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.social.SessionErr = errors.New("auth down")
	notifier := &portstest.Notifier{}
	h.o.Notifier = notifier

	report := h.o.Run(context.Background())
	assert.Equal(t, "session", report.Aborted)
	assert.Empty(t, h.social.Queries)
	require.Len(t, notifier.Messages, 1)
	assert.Contains(t, notifier.Messages[0], "aborted: session")
}

func TestRun_SearchFailureAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.social.SearchErr = errors.New("timeout")
	require.NoError(t, h.o.Schedule.SaveLastEvaluation(ctx, h.now.Add(-100*time.Hour)))

	report := h.o.Run(ctx)
	assert.Equal(t, "search", report.Aborted)
	assert.False(t, report.ReminderSent)
	assert.Empty(t, h.social.Standalone)
}

func TestRun_PruneIsProbabilistic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Posts.MarkProcessed(ctx, "stale", h.now.Add(-8*24*time.Hour)))

	h.o.Run(ctx)
	ok, _ := h.o.Posts.Contains(ctx, "stale")
	assert.True(t, ok, "no prune when the dice say no")

	h.o.Rand = func() float64 { return 0.05 }
	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.Pruned)
	ok, _ = h.o.Posts.Contains(ctx, "stale")
	assert.False(t, ok)
}

func TestRun_StorageReadFailureDegradesToReprocess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := post(0, h.now.Add(-time.Hour))
	h.social.Posts = []domain.Item{p}
	require.NoError(t, h.store.Put(ctx, ledger.PostsKey, "{corrupt"))

	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.PostsReplied)
}

func notification(uri string, reason domain.NotificationReason, created time.Time, text string) domain.Notification {
	return domain.Notification{
		Reason: reason,
		Item: domain.Item{
			URI:       uri,
			CID:       uri + "-cid",
			AuthorDID: userDID,
			Text:      text,
			CreatedAt: created,
		},
	}
}

func TestRun_NotificationConversationalReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gen.Responses = []string{"どういたしまして！明日も一緒に頑張りましょうね。無理は禁物ですよ。"}

	root := domain.PostRef{URI: "at://did:plc:user/app.bsky.feed.post/root", CID: "rootcid"}
	n := notification("at://did:plc:user/app.bsky.feed.post/n1", domain.ReasonReply, h.now.Add(-10*time.Minute), "ありがとう！")
	h.social.Notifications = []domain.Notification{n}
	h.social.Threads = map[string]*domain.Thread{
		n.URI: {Post: n.Item, Root: &root, ParentAuthorDID: botDID},
	}

	report := h.o.Run(ctx)
	require.Equal(t, 1, report.NotificationsReplied)
	require.Len(t, h.social.Replies, 1)
	r := h.social.Replies[0]
	assert.Equal(t, n.Ref(), r.Parent)
	assert.Equal(t, root, r.Root)
	assert.LessOrEqual(t, len([]rune(r.Text)), brain.ConversationalLimit)

	ok, _ := h.o.Notifications.Contains(ctx, n.URI)
	assert.True(t, ok)
	_, stored, _ := h.store.Get(ctx, streak.Key(userDID))
	assert.False(t, stored, "conversational replies do not touch the streak")
	assert.Equal(t, 1, h.social.SeenMarked)

	h.o.Run(ctx)
	assert.Len(t, h.social.Replies, 1)
}

func TestRun_NotificationEvaluationMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	n := notification("at://did:plc:user/app.bsky.feed.post/m1", domain.ReasonMention, h.now.Add(-time.Hour), "@bot 今日は腹筋しました")
	h.social.Notifications = []domain.Notification{n}
	h.social.Threads = map[string]*domain.Thread{n.URI: {Post: n.Item}}

	report := h.o.Run(ctx)
	require.Equal(t, 1, report.NotificationsReplied)
	r := h.social.Replies[0]
	assert.Equal(t, n.Ref(), r.Parent)
	assert.Equal(t, n.Ref(), r.Root, "top-level mention is its own root")

	rec, err := h.o.Streaks.Load(ctx, userDID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ConsecutiveDays)

	ok, _ := h.o.Notifications.Contains(ctx, n.URI)
	assert.True(t, ok)
	ok, _ = h.o.Posts.Contains(ctx, n.URI)
	assert.False(t, ok)
}

func TestRun_NotificationEvaluationUsesThreadImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	n := notification("at://did:plc:user/app.bsky.feed.post/m2", domain.ReasonMention, h.now.Add(-time.Hour), "@bot ベンチプレス記録です")
	withImage := n.Item
	withImage.ImageURLs = []string{"https://cdn/1.jpg"}
	h.social.Notifications = []domain.Notification{n}
	h.social.Threads = map[string]*domain.Thread{n.URI: {Post: withImage}}

	report := h.o.Run(ctx)
	require.Equal(t, 1, report.NotificationsReplied)
	require.Len(t, h.gen.Calls, 1)
	assert.Len(t, h.gen.Calls[0], 2, "prompt plus the attached image")
}

func TestRun_IgnoresNotificationsOlderThanRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	n := notification("at://did:plc:user/app.bsky.feed.post/old", domain.ReasonMention, h.now.Add(-10*24*time.Hour), "@bot 久しぶりに走りました")
	h.social.Notifications = []domain.Notification{n}

	h.o.Now = func() time.Time { return h.now.Add(-9 * 24 * time.Hour) }
	first := h.o.Run(ctx)
	require.Equal(t, 1, first.NotificationsReplied)

	h.o.Now = func() time.Time { return h.now }
	h.o.Rand = func() float64 { return 0 }
	second := h.o.Run(ctx)
	assert.Equal(t, 1, second.Pruned, "the answered mention left the ledger")
	assert.Zero(t, second.NotificationsReplied)
	assert.Len(t, h.social.Replies, 1)
}

func TestNew_DefaultsPruneProbability(t *testing.T) {
	o := New(&portstest.Social{}, nil, storage.NewMemoryStorage(), nil, Options{}, nil)
	assert.Equal(t, DefaultPruneProbability, o.Options().PruneProbability)

	never := New(&portstest.Social{}, nil, storage.NewMemoryStorage(), nil, Options{PruneProbability: -1}, nil)
	never.Rand = func() float64 { return 0 }
	assert.Zero(t, never.Run(context.Background()).Pruned)
}

func TestRun_NotificationFiltering(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	created := h.now.Add(-time.Hour)

	other := notification("at://x/1", domain.ReasonMention, created, "hi")
	other.AuthorDID = "did:plc:stranger"
	like := notification("at://x/2", domain.ReasonLike, created, "")
	dup := post(0, created)

	h.social.Posts = []domain.Item{dup}
	h.social.Notifications = []domain.Notification{
		other,
		like,
		{Reason: domain.ReasonMention, Item: dup},
	}

	report := h.o.Run(ctx)
	assert.Equal(t, 1, report.PostsReplied)
	assert.Zero(t, report.NotificationsReplied)
	assert.Len(t, h.social.Replies, 1)
	assert.Zero(t, h.social.SeenMarked)
}

func TestRun_ThreadFailureFallsBackToRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gen.Responses = []string{"うれしいです！"}
	n := notification("at://did:plc:user/app.bsky.feed.post/r2", domain.ReasonReply, h.now.Add(-time.Minute), "了解です")
	n.ReplyParent = &domain.PostRef{URI: "at://did:plc:bot/app.bsky.feed.post/bot1", CID: "b1"}
	n.ReplyRoot = &domain.PostRef{URI: "at://did:plc:user/app.bsky.feed.post/root", CID: "rc"}
	h.social.Notifications = []domain.Notification{n}

	report := h.o.Run(ctx)
	require.Equal(t, 1, report.NotificationsReplied)
	r := h.social.Replies[0]
	assert.Equal(t, *n.ReplyRoot, r.Root)
	assert.Equal(t, "うれしいです！", r.Text)
	_, stored, _ := h.store.Get(ctx, streak.Key(userDID))
	assert.False(t, stored)
}

func TestRun_ReminderAfterInactivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gen.Responses = []string{"お元気ですか？無理せずいきましょう。"}
	require.NoError(t, h.o.Schedule.SaveLastEvaluation(ctx, h.now.Add(-80*time.Hour)))

	report := h.o.Run(ctx)
	assert.True(t, report.ReminderSent)
	require.Len(t, h.social.Standalone, 1)
	assert.Contains(t, h.social.Standalone[0], "@user.bsky.social")

	report = h.o.Run(ctx)
	assert.False(t, report.ReminderSent)
	assert.Len(t, h.social.Standalone, 1)
}

func TestRun_NoReminderBeforeFirstEvaluation(t *testing.T) {
	h := newHarness(t)
	report := h.o.Run(context.Background())
	assert.False(t, report.ReminderSent)
	assert.Empty(t, h.social.Standalone)
}

func TestRun_LastEvaluationNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	later := h.now.Add(-time.Minute)
	require.NoError(t, h.o.Schedule.SaveLastEvaluation(ctx, later))
	h.social.Posts = []domain.Item{post(0, h.now.Add(-5*time.Hour))}

	h.o.Run(ctx)
	st, _ := h.o.Schedule.Load(ctx)
	assert.True(t, later.Equal(*st.LastEvaluationTime))
}

func TestReplyModeAndRoot(t *testing.T) {
	n := notification("at://did:plc:user/app.bsky.feed.post/z", domain.ReasonReply, time.Now(), "")
	assert.Equal(t, domain.ModeEvaluation, replyMode(n, nil, botDID))
	assert.Equal(t, domain.ModeEvaluation, replyMode(n, &domain.Thread{ParentAuthorDID: userDID}, botDID))
	assert.Equal(t, domain.ModeConversational, replyMode(n, &domain.Thread{ParentAuthorDID: botDID}, botDID))
	assert.Equal(t, domain.ModeEvaluation, replyMode(n, &domain.Thread{ParentAuthorDID: ""}, ""))

	assert.Equal(t, n.Ref(), threadRoot(n, nil))
	assert.Equal(t, "did:plc:bot", authority("at://did:plc:bot/app.bsky.feed.post/1"))
	assert.Equal(t, "", authority("https://example.com"))
}
