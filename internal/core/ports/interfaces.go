package ports

import (
	"context"
	"errors"

	"trainer-bot/internal/core/domain"
)

// ErrModelUnavailable is returned by a TextGenerator when the configured model
// cannot be resolved by the backend.
var ErrModelUnavailable = errors.New("model unavailable")

// SocialClient is the bot's view of the social network.
type SocialClient interface {
	// EnsureSession resumes the stored session or logs in again.
	EnsureSession(ctx context.Context) error
	// Self returns the DID of the authenticated bot account.
	Self() string
	SearchPosts(ctx context.Context, q domain.SearchQuery) ([]domain.Item, error)
	Post(ctx context.Context, text string) (domain.PostRef, error)
	Reply(ctx context.Context, text string, parent, root domain.PostRef) (domain.PostRef, error)
	GetProfile(ctx context.Context, actor string) (domain.Profile, error)
	ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
	UpdateSeenNotifications(ctx context.Context) error
	GetThread(ctx context.Context, uri string) (*domain.Thread, error)
	// FetchBlob downloads an image referenced by a post.
	FetchBlob(ctx context.Context, url string) ([]byte, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, parts []domain.Part) (string, error)
	// Model returns the configured model identifier.
	Model() string
}

type ImagePreprocessor interface {
	// ResizeWithinBounds downscales keeping the aspect ratio. It never upscales.
	ResizeWithinBounds(data []byte, maxW, maxH int) ([]byte, error)
	// CompositeGrid arranges up to four images into one JPEG.
	CompositeGrid(images [][]byte) ([]byte, error)
}

// Storage is an eventually consistent key-value store.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Notifier forwards operator-facing summaries. It is optional.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}
