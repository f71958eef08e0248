package brain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
)

const DefaultModel = "gemini-2.5-flash"

type modelConfig struct {
	Name string
	RPM  int
	RPD  int
}

// GeminiClient implements ports.TextGenerator on the Gemini API. The
// configured model is tried first, then the fallbacks.
type GeminiClient struct {
	Client *genai.Client
	Models []modelConfig
	Logger *zap.Logger

	dailyCount   map[string]int
	minuteCount  map[string]int
	lastResetDay time.Time
	lastResetMin time.Time
	mu           sync.Mutex
}

func NewGeminiClient(ctx context.Context, apiKey, model string, fallbacks []string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	models := []modelConfig{limitsFor(model)}
	for _, m := range fallbacks {
		if m != "" && m != model {
			models = append(models, limitsFor(m))
		}
	}

	return &GeminiClient{
		Client:       client,
		Models:       models,
		Logger:       logger,
		dailyCount:   make(map[string]int),
		minuteCount:  make(map[string]int),
		lastResetDay: time.Now(),
		lastResetMin: time.Now(),
	}, nil
}

// limitsFor returns free-tier request limits for known models.
func limitsFor(name string) modelConfig {
	switch {
	case strings.Contains(name, "flash-lite"):
		return modelConfig{Name: name, RPM: 15, RPD: 1000}
	case strings.Contains(name, "flash"):
		return modelConfig{Name: name, RPM: 10, RPD: 250}
	case strings.Contains(name, "pro"):
		return modelConfig{Name: name, RPM: 5, RPD: 100}
	default:
		return modelConfig{Name: name, RPM: 10, RPD: 250}
	}
}

var _ ports.TextGenerator = (*GeminiClient)(nil)

func (b *GeminiClient) Model() string {
	return b.Models[0].Name
}

// Generate sends parts as a single user turn. When every model is missing
// the error wraps ports.ErrModelUnavailable.
func (b *GeminiClient) Generate(ctx context.Context, parts []domain.Part) (string, error) {
	content := genai.NewContentFromParts(toGenaiParts(parts), genai.RoleUser)

	var lastErr error
	allMissing := true
	for _, cfg := range b.Models {
		if !b.canUseModel(cfg) {
			allMissing = false
			continue
		}

		result, err := b.Client.Models.GenerateContent(ctx, cfg.Name, []*genai.Content{content}, nil)
		if err != nil {
			switch {
			case isModelMissing(err):
				b.Logger.Warn("Model unavailable", zap.String("model", cfg.Name), zap.Error(err))
				lastErr = err
				continue
			case isRateLimited(err):
				b.Logger.Warn("Model rate limited", zap.String("model", cfg.Name), zap.Error(err))
				allMissing = false
				lastErr = err
				continue
			}
			return "", err
		}

		b.recordUsage(cfg)
		text := result.Text()
		if text == "" {
			allMissing = false
			lastErr = errors.New("empty response")
			continue
		}
		return text, nil
	}

	if allMissing {
		return "", fmt.Errorf("%w: %s: %v", ports.ErrModelUnavailable, b.Model(), lastErr)
	}
	return "", fmt.Errorf("all models failed: %v", lastErr)
}

func toGenaiParts(parts []domain.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			mime := p.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			out = append(out, genai.NewPartFromBytes(p.Data, mime))
			continue
		}
		out = append(out, genai.NewPartFromText(p.Text))
	}
	return out
}

func isModelMissing(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "404") || strings.Contains(s, "not found") ||
		strings.Contains(s, "not_found") || strings.Contains(s, "is not supported for generatecontent")
}

func isRateLimited(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit") || strings.Contains(s, "exhausted")
}

func (b *GeminiClient) canUseModel(cfg modelConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.YearDay() != b.lastResetDay.YearDay() {
		b.dailyCount = make(map[string]int)
		b.lastResetDay = now
	}
	if now.Sub(b.lastResetMin) >= time.Minute {
		b.minuteCount = make(map[string]int)
		b.lastResetMin = now
	}
	if b.dailyCount[cfg.Name] >= cfg.RPD {
		return false
	}
	if b.minuteCount[cfg.Name] >= cfg.RPM {
		return false
	}
	return true
}

func (b *GeminiClient) recordUsage(cfg modelConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyCount[cfg.Name]++
	b.minuteCount[cfg.Name]++
}
