package brain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"trainer-bot/internal/core/domain"
)

func TestTruncate_BacksUpToSentenceEnd(t *testing.T) {
	// 。 at index 280, nothing else before the cap.
	s := strings.Repeat("あ", 280) + "。" + strings.Repeat("い", 69)
	assert.Equal(t, 350, utf8.RuneCountInString(s))

	got := Truncate(s, EvaluationLimit)
	assert.Equal(t, strings.Repeat("あ", 280)+"。", got)
	assert.Equal(t, 281, utf8.RuneCountInString(got))
}

func TestTruncate_HardCut(t *testing.T) {
	s := strings.Repeat("a", 350)
	assert.Equal(t, strings.Repeat("a", 300), Truncate(s, EvaluationLimit))
}

func TestTruncate_SentenceEndExactlyAtCap(t *testing.T) {
	s := strings.Repeat("あ", 299) + "。" + strings.Repeat("い", 10)
	assert.Equal(t, strings.Repeat("あ", 299)+"。", Truncate(s, EvaluationLimit))
}

func TestTruncate_ShortUnchanged(t *testing.T) {
	assert.Equal(t, "いいね。", Truncate("いいね。", ConversationalLimit))
}

func TestFinalize_Evaluation(t *testing.T) {
	got := Finalize("評価です。\n---\n- その他：ランニング30分", domain.ModeEvaluation)
	assert.Equal(t, domain.AIResponse{DisplayText: "評価です。", HistoryNotes: "ランニング30分"}, got)
}

func TestFinalize_HalfWidthColonAndFirstMatch(t *testing.T) {
	raw := "90点！よく頑張りました。\n---\n- 運動内容：スクワット\n- その他: 膝に違和感\n- その他：二つ目"
	got := Finalize(raw, domain.ModeEvaluation)
	assert.Equal(t, "90点！よく頑張りました。", got.DisplayText)
	assert.Equal(t, "膝に違和感", got.HistoryNotes)
}

func TestFinalize_NoDelimiter(t *testing.T) {
	got := Finalize("  100点です。その他：これは本文  \n", domain.ModeEvaluation)
	assert.Equal(t, "100点です。その他：これは本文", got.DisplayText)
	assert.Empty(t, got.HistoryNotes)
}

func TestFinalize_DelimiterWithoutNotes(t *testing.T) {
	got := Finalize("80点。\n---\n- 運動内容：ヨガ", domain.ModeEvaluation)
	assert.Equal(t, "80点。", got.DisplayText)
	assert.Empty(t, got.HistoryNotes)
}

func TestFinalize_LongEvaluationKeepsNotes(t *testing.T) {
	body := strings.Repeat("す", 200) + "。" + strings.Repeat("ご", 150)
	got := Finalize(body+"\n---\n- その他：腹筋", domain.ModeEvaluation)
	assert.Equal(t, strings.Repeat("す", 200)+"。", got.DisplayText)
	assert.Equal(t, "腹筋", got.HistoryNotes)
}

func TestFinalize_ConversationalIgnoresDelimiter(t *testing.T) {
	got := Finalize("ありがとう！---また明日。", domain.ModeConversational)
	assert.Equal(t, "ありがとう！---また明日。", got.DisplayText)
	assert.Empty(t, got.HistoryNotes)

	long := Finalize(strings.Repeat("お", 45)+"。"+strings.Repeat("つ", 20), domain.ModeConversational)
	assert.Equal(t, strings.Repeat("お", 45)+"。", long.DisplayText)
}

func TestFinalize_StripsHashtags(t *testing.T) {
	got := Finalize("素晴らしい！ #青空筋トレ部 明日も頑張ろう。", domain.ModeEvaluation)
	assert.Equal(t, "素晴らしい！ 明日も頑張ろう。", got.DisplayText)

	full := Finalize("今日も完走＃青空筋トレ部。", domain.ModeEvaluation)
	assert.Equal(t, "今日も完走。", full.DisplayText)

	kept := Finalize("スクワット #1 と #朝活 お見事です。", domain.ModeEvaluation)
	assert.Equal(t, "スクワット #1 と #朝活 お見事です。", kept.DisplayText)
}
