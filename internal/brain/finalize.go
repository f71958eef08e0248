package brain

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"trainer-bot/internal/core/domain"
)

const (
	EvaluationLimit     = 300
	ConversationalLimit = 50
	ReminderLimit       = 300

	sentenceEnd = '。'
)

var (
	notesPattern   = regexp.MustCompile(`その他[：:]\s*(.+)`)
	hashtagPattern = regexp.MustCompile(`[#＃]` + regexp.QuoteMeta(strings.TrimPrefix(Hashtag, "#")))
	spacesPattern  = regexp.MustCompile(`[ \t]{2,}`)
)

// LimitFor returns the character cap for a reply mode.
func LimitFor(mode domain.Mode) int {
	switch mode {
	case domain.ModeConversational:
		return ConversationalLimit
	case domain.ModeReminder:
		return ReminderLimit
	default:
		return EvaluationLimit
	}
}

// Truncate cuts s to at most limit characters, backing up to the last '。'
// inside the limit when there is one.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := []rune(s)[:limit]
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == sentenceEnd {
			return string(cut[:i+1])
		}
	}
	return string(cut)
}

// Finalize turns raw model output into the reply text and, for evaluations,
// the notes to remember.
func Finalize(raw string, mode domain.Mode) domain.AIResponse {
	text := strings.TrimSpace(raw)
	var resp domain.AIResponse

	if mode == domain.ModeEvaluation {
		if idx := strings.Index(text, HistoryDelimiter); idx >= 0 {
			resp.HistoryNotes = parseNotes(text[idx+len(HistoryDelimiter):])
			text = strings.TrimSpace(text[:idx])
		}
	}

	text = stripHashtags(text)
	resp.DisplayText = Truncate(text, LimitFor(mode))
	return resp
}

func parseNotes(history string) string {
	for _, line := range strings.Split(history, "\n") {
		if m := notesPattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// stripHashtags removes the bot's own tag; other hashtags stay.
func stripHashtags(s string) string {
	if !strings.ContainsAny(s, "#＃") {
		return s
	}
	s = hashtagPattern.ReplaceAllString(s, "")
	s = spacesPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
