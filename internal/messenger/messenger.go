// Package messenger delivers turn prompts over Telegram and converts player
// button taps into turn events on the bus. The worker core never touches
// telebot directly.
package messenger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"game-session-worker/internal/config"
	"game-session-worker/internal/model"
	"game-session-worker/internal/pricing"
	"game-session-worker/internal/worker"
)

// diceAnimation is how long the Telegram dice animation plays before the
// value is readable in chat.
const diceAnimation = 3 * time.Second

// Publisher is the slice of the bus the messenger needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Messenger wraps the telebot instance and implements worker.Prompter.
type Messenger struct {
	bot  *tele.Bot
	pub  Publisher
	conv *pricing.Converter
}

// New creates the Messenger and registers its callback handler.
func New(cfg *config.BotConfig, pub Publisher, conv *pricing.Converter) (*Messenger, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	m := &Messenger{
		bot:  teleBot,
		pub:  pub,
		conv: conv,
	}
	m.bot.Handle(tele.OnCallback, m.handleCallback)

	return m, nil
}

// Start starts long polling. Blocks until Stop.
func (m *Messenger) Start() {
	log.Info().Msg("Starting messenger...")
	m.bot.Start()
}

// Stop stops long polling.
func (m *Messenger) Stop() {
	log.Info().Msg("Stopping messenger...")
	m.bot.Stop()
}

// SendPrompt renders and sends a turn prompt, returning the message ID as
// the prompt handle.
func (m *Messenger) SendPrompt(ctx context.Context, chatID int64, view worker.PromptView) (string, error) {
	text, markup, err := renderPrompt(view, m.conv)
	if err != nil {
		return "", err
	}

	msg, err := m.bot.Send(tele.ChatID(chatID), text, markup)
	if err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}
	return strconv.Itoa(msg.ID), nil
}

// SendResult announces a finished session's outcome in the chat.
func (m *Messenger) SendResult(ctx context.Context, chatID int64, view worker.ResultView) error {
	text := renderResult(view, m.conv)
	if _, err := m.bot.Send(tele.ChatID(chatID), text); err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}
	return nil
}

// DeletePrompt removes a previously sent prompt message. Already-deleted
// messages are not an error.
func (m *Messenger) DeletePrompt(ctx context.Context, chatID int64, handle string) error {
	msgID, err := strconv.Atoi(handle)
	if err != nil {
		return fmt.Errorf("malformed prompt handle %q: %w", handle, err)
	}

	if err := m.bot.Delete(&tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}); err != nil {
		if strings.Contains(err.Error(), "message to delete not found") {
			return nil
		}
		return err
	}
	return nil
}

// handleCallback turns a button tap into a turn event. Validation happens in
// the worker core under the row lock; invalid taps simply produce events
// that get dropped there.
func (m *Messenger) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")
	action, sessionID := DecodeCallback(data)
	if sessionID == "" {
		return c.Respond()
	}

	ev := model.TurnEvent{
		SessionID: sessionID,
		ActorID:   c.Sender().ID,
	}

	switch action {
	case "roll":
		ev.Action = model.ActionRoll
		// The bot rolls on the player's behalf so the value cannot be forged
		diceMsg, err := c.Bot().Send(c.Chat(), tele.Cube)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to send dice")
			return c.Respond(&tele.CallbackResponse{Text: "🎲 failed, try again"})
		}
		time.Sleep(diceAnimation)
		ev.Roll = diceMsg.Dice.Value
	case "cashout":
		ev.Action = model.ActionCashout
	case "continue":
		ev.Action = model.ActionContinue
	default:
		return c.Respond()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.pub.Publish(ctx, model.ChannelTurnSubmitted, ev); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to publish turn event")
		return c.Respond(&tele.CallbackResponse{Text: "⚠️ please retry"})
	}

	return c.Respond()
}
