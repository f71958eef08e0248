package domain

import "time"

// PostRef identifies one version of a post (AT-URI plus CID). Replies must
// reference both their parent and the thread root this way.
type PostRef struct {
	URI string
	CID string
}

func (r PostRef) IsZero() bool { return r.URI == "" }

// Item is a post or notification under consideration. It is built from the
// feed and never persisted.
type Item struct {
	URI       string
	CID       string
	AuthorDID string
	Text      string
	CreatedAt time.Time
	ImageURLs []string

	// ReplyParent and ReplyRoot come from the post record when it is a reply.
	ReplyParent *PostRef
	ReplyRoot   *PostRef
}

// Ref returns a reference to the item itself.
func (i Item) Ref() PostRef { return PostRef{URI: i.URI, CID: i.CID} }

// NotificationReason mirrors app.bsky.notification reasons.
type NotificationReason string

const (
	ReasonMention NotificationReason = "mention"
	ReasonReply   NotificationReason = "reply"
	ReasonLike    NotificationReason = "like"
	ReasonRepost  NotificationReason = "repost"
	ReasonFollow  NotificationReason = "follow"
	ReasonQuote   NotificationReason = "quote"
)

// Notification wraps the post that triggered a notification.
type Notification struct {
	Reason    NotificationReason
	IsRead    bool
	IndexedAt time.Time
	Item
}

// Thread is the part of a post thread the bot needs to decide how to reply.
type Thread struct {
	Post Item
	// Root is the top-level post of the conversation, if Post is a reply.
	Root *PostRef
	// ParentAuthorDID is empty when Post has no (visible) parent.
	ParentAuthorDID string
}

// Profile is the subset of an actor profile the bot uses.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
}

// SearchQuery parameters for app.bsky.feed.searchPosts.
type SearchQuery struct {
	Query  string
	Author string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Mode selects how a reply is composed.
type Mode string

const (
	ModeEvaluation     Mode = "evaluation"
	ModeConversational Mode = "conversational"
	ModeReminder       Mode = "reminder"
)

// AIResponse is the parsed model output.
type AIResponse struct {
	DisplayText  string
	HistoryNotes string
}

// Part is one element of a multimodal prompt: text or an inline image.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

func TextPart(s string) Part { return Part{Text: s} }

func ImagePart(data []byte, mime string) Part { return Part{Data: data, MIMEType: mime} }

// ScheduleState holds the process-wide timestamps used for reminders. A nil
// field means the event has never happened.
type ScheduleState struct {
	LastEvaluationTime *time.Time
	LastReminderTime   *time.Time
}

// RunReport summarizes one orchestrator pass.
type RunReport struct {
	StartedAt            time.Time `json:"startedAt"`
	PostsFound           int       `json:"postsFound"`
	PostsReplied         int       `json:"postsReplied"`
	NotificationsSeen    int       `json:"notificationsSeen"`
	NotificationsReplied int       `json:"notificationsReplied"`
	Skipped              int       `json:"skipped"`
	Failures             int       `json:"failures"`
	Pruned               int       `json:"pruned"`
	ReminderSent         bool      `json:"reminderSent"`
	Aborted              string    `json:"aborted,omitempty"`
}
