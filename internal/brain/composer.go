package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trainer-bot/internal/calendar"
	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
	"trainer-bot/internal/streak"
)

const (
	maxImages      = 4
	fetchWorkers   = 4
	maxImageWidth  = 1024
	maxImageHeight = 1024
)

// BlobFetcher downloads post attachments.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, url string) ([]byte, error)
}

// Composer builds prompts, calls the model and post-processes its output.
type Composer struct {
	Generator ports.TextGenerator
	Images    ports.ImagePreprocessor
	Blobs     BlobFetcher
	Logger    *zap.Logger
}

func NewComposer(gen ports.TextGenerator, images ports.ImagePreprocessor, blobs BlobFetcher, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{Generator: gen, Images: images, Blobs: blobs, Logger: logger}
}

// ComposeEvaluation grades a check-in post. prior is the stored streak before
// this post and next is what the post will make it.
func (c *Composer) ComposeEvaluation(ctx context.Context, item domain.Item, prior streak.Record, next streak.Next) (string, error) {
	local := calendar.ToLocal(item.CreatedAt)
	var b strings.Builder
	b.WriteString(EvaluationRules)
	b.WriteString("\n# 投稿内容:\n")
	b.WriteString(item.Text)
	fmt.Fprintf(&b, "\n\n現在の日時: %s（%s曜日・%s）\n\n", calendar.FormatLocal(item.CreatedAt), calendar.Weekday(item.CreatedAt), calendar.PartOfDay(local).Label())
	b.WriteString(historyBlock(prior, next))
	b.WriteString("\n")

	parts := []domain.Part{domain.TextPart(b.String())}
	if img := c.prepareImages(ctx, item.ImageURLs); img != nil {
		parts = append(parts, domain.ImagePart(img, "image/jpeg"))
	}
	c.Logger.Debug("Evaluation prompt", zap.String("uri", item.URI), zap.Int("parts", len(parts)))

	return c.generate(ctx, parts)
}

// ComposeConversational answers a reply to one of the bot's own replies.
func (c *Composer) ComposeConversational(ctx context.Context, item domain.Item) (string, error) {
	local := calendar.ToLocal(item.CreatedAt)
	prompt := fmt.Sprintf("%s\n# ユーザーの返信:\n%s\n\n現在の日時: %s（%s）\n",
		ConversationalRules, item.Text, calendar.FormatLocal(item.CreatedAt), calendar.PartOfDay(local).Label())
	return c.generate(ctx, []domain.Part{domain.TextPart(prompt)})
}

// ComposeReminder writes an inactivity check-in addressed to handle. The text
// always starts with the mention.
func (c *Composer) ComposeReminder(ctx context.Context, handle string, now time.Time, since time.Duration) (string, error) {
	mention := "@" + strings.TrimPrefix(handle, "@")
	local := calendar.ToLocal(now)
	prompt := fmt.Sprintf(ReminderRules, mention) + fmt.Sprintf(
		"\n現在の日時: %s（%s曜日・%s）\n最後のトレーニング投稿からの経過: 約%d日\n",
		calendar.FormatLocal(now), calendar.Weekday(now), calendar.PartOfDay(local).Label(), int(since.Hours()/24))

	raw, err := c.Generator.Generate(ctx, []domain.Part{domain.TextPart(prompt)})
	if errors.Is(err, ports.ErrModelUnavailable) {
		c.Logger.Warn("Reminder falls back to template", zap.Error(err))
		return fmt.Sprintf(reminderFallbackFormat, mention), nil
	}
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(raw)
	if !strings.Contains(text, mention) {
		text = mention + " " + text
	}
	return Finalize(text, domain.ModeReminder).DisplayText, nil
}

func (c *Composer) generate(ctx context.Context, parts []domain.Part) (string, error) {
	raw, err := c.Generator.Generate(ctx, parts)
	if errors.Is(err, ports.ErrModelUnavailable) {
		c.Logger.Warn("Model unavailable, replying with apology", zap.String("model", c.Generator.Model()), zap.Error(err))
		return Apology(c.Generator.Model()), nil
	}
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return raw, nil
}

// Apology is the reply sent when the model cannot be reached.
func Apology(model string) string {
	return fmt.Sprintf(apologyFormat, model)
}

func historyBlock(prior streak.Record, next streak.Next) string {
	if !prior.HasHistory() {
		return firstRecordBlock
	}
	notes := prior.Notes
	if notes == "" {
		notes = "なし"
	}
	return fmt.Sprintf(historyBlockFormat, prior.LastTrainingDate, next.Days, notes)
}

// prepareImages fetches and shrinks the attachments in parallel and merges
// them into a single image. Attachments that fail are skipped.
func (c *Composer) prepareImages(ctx context.Context, urls []string) []byte {
	if len(urls) == 0 || c.Images == nil || c.Blobs == nil {
		return nil
	}
	if len(urls) > maxImages {
		urls = urls[:maxImages]
	}

	results := make([][]byte, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for i, url := range urls {
		g.Go(func() error {
			data, err := c.Blobs.FetchBlob(gctx, url)
			if err != nil {
				c.Logger.Warn("Image fetch failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			resized, err := c.Images.ResizeWithinBounds(data, maxImageWidth, maxImageHeight)
			if err != nil {
				c.Logger.Warn("Image resize failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			results[i] = resized
			return nil
		})
	}
	_ = g.Wait()

	var images [][]byte
	for _, r := range results {
		if r != nil {
			images = append(images, r)
		}
	}
	switch len(images) {
	case 0:
		return nil
	case 1:
		return images[0]
	}
	grid, err := c.Images.CompositeGrid(images)
	if err != nil {
		c.Logger.Warn("Image composite failed, sending first image", zap.Error(err))
		return images[0]
	}
	return grid
}
