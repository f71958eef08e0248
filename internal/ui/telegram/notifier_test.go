package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestNotify(t *testing.T) {
	bot := &fakeBot{}
	n := newNotifier(bot, 42, nil)

	require.NoError(t, n.Notify(context.Background(), "trainer_bot run", "replied 2 *posts*"))
	require.Len(t, bot.sent, 1)
	msg := bot.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
	assert.Equal(t, "*[trainer\\_bot run]*\n\nreplied 2 \\*posts\\*", msg.Text)
}

func TestNotify_Errors(t *testing.T) {
	n := newNotifier(&fakeBot{err: errors.New("boom")}, 1, nil)
	require.Error(t, n.Notify(context.Background(), "t", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bot := &fakeBot{}
	require.ErrorIs(t, newNotifier(bot, 1, nil).Notify(ctx, "t", "b"), context.Canceled)
	assert.Empty(t, bot.sent)
}

func TestNewNotifier_BadChatID(t *testing.T) {
	_, err := NewNotifier("token", "not-a-number", nil)
	require.Error(t, err)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b \\[c] \\`d\\`", escapeMarkdown("a_b [c] `d`"))
}
