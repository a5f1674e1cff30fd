package messenger

import (
	"encoding/json"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"game-session-worker/internal/model"
	"game-session-worker/internal/pricing"
	"game-session-worker/internal/worker"
)

const (
	// CallbackPrefix is the prefix for all turn callback data
	CallbackPrefix = "turn_"

	separator = "━━━━━━━━━━━━━━━\n"
)

// EncodeCallback encodes an action and session ID into callback data.
func EncodeCallback(action, sessionID string) string {
	return fmt.Sprintf("%s%s_%s", CallbackPrefix, action, sessionID)
}

// DecodeCallback decodes callback data into action and session ID.
func DecodeCallback(data string) (action string, sessionID string) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return "", ""
	}

	content := strings.TrimPrefix(data, CallbackPrefix)
	parts := strings.SplitN(content, "_", 2)
	action = parts[0]
	if len(parts) > 1 {
		sessionID = parts[1]
	}
	return action, sessionID
}

// renderPrompt builds the prompt text and inline keyboard for a session
// snapshot.
func renderPrompt(view worker.PromptView, conv *pricing.Converter) (string, *tele.ReplyMarkup, error) {
	switch view.Archetype {
	case model.ArchetypeEscalate:
		return renderEscalate(view, conv)
	case model.ArchetypeLadder:
		return renderLadder(view, conv)
	case model.ArchetypeDuel:
		return renderDuel(view, conv)
	default:
		return "", nil, fmt.Errorf("no renderer for archetype %q", view.Archetype)
	}
}

func renderEscalate(view worker.PromptView, conv *pricing.Converter) (string, *tele.ReplyMarkup, error) {
	var st model.EscalateState
	if err := json.Unmarshal(view.State, &st); err != nil {
		return "", nil, fmt.Errorf("malformed escalate state: %w", err)
	}

	msg := "🎲 Escalation\n"
	msg += separator
	msg += fmt.Sprintf("Stake: %s | Multiplier: %s\n", conv.Display(view.Stake), pricing.Multiplier(st.Multiplier))
	if len(st.Rolls) > 0 {
		msg += fmt.Sprintf("Rolls: %s\n", formatRolls(st.Rolls))
	}
	msg += separator
	msg += fmt.Sprintf("%s, roll %d - keep going?", view.ActorName, st.Turn+1)

	buttons := []tele.InlineButton{rollButton(view.SessionID)}
	buttons = append(buttons, tele.InlineButton{
		Text: fmt.Sprintf("💵 Cash out %s", conv.Display(view.Stake*st.Multiplier/100)),
		Data: EncodeCallback("cashout", view.SessionID),
	})

	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{buttons}}
	return msg, markup, nil
}

func renderLadder(view worker.PromptView, conv *pricing.Converter) (string, *tele.ReplyMarkup, error) {
	var st model.LadderState
	if err := json.Unmarshal(view.State, &st); err != nil {
		return "", nil, fmt.Errorf("malformed ladder state: %w", err)
	}

	msg := "🪜 Ladder\n"
	msg += separator
	msg += fmt.Sprintf("Stake: %s | Round %d\n", conv.Display(view.Stake), st.Round)
	msg += separator

	markup := &tele.ReplyMarkup{}
	switch st.Phase {
	case model.PhasePendingChoice:
		msg += fmt.Sprintf("%s, round %d failed. Take the money or push on?", view.ActorName, st.Round)
		markup.InlineKeyboard = [][]tele.InlineButton{{
			{Text: "💵 Cash out", Data: EncodeCallback("cashout", view.SessionID)},
			{Text: "⬆️ Continue", Data: EncodeCallback("continue", view.SessionID)},
		}}
	default:
		msg += fmt.Sprintf("%s, shot %d of 2 - roll!", view.ActorName, st.Shots+1)
		markup.InlineKeyboard = [][]tele.InlineButton{{rollButton(view.SessionID)}}
	}

	return msg, markup, nil
}

func renderDuel(view worker.PromptView, conv *pricing.Converter) (string, *tele.ReplyMarkup, error) {
	var st model.DuelState
	if err := json.Unmarshal(view.State, &st); err != nil {
		return "", nil, fmt.Errorf("malformed duel state: %w", err)
	}

	msg := "⚔️ Duel\n"
	msg += separator
	msg += fmt.Sprintf("Stake: %s\n", conv.Display(view.Stake))
	if len(st.P1Rolls) > 0 {
		msg += fmt.Sprintf("P1: %s\n", formatRolls(st.P1Rolls))
	}
	if len(st.P2Rolls) > 0 {
		msg += fmt.Sprintf("P2: %s\n", formatRolls(st.P2Rolls))
	}
	msg += separator
	msg += fmt.Sprintf("%s, your turn!", view.ActorName)

	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{rollButton(view.SessionID)}}}
	return msg, markup, nil
}

// renderResult formats the terminal outcome announcement.
func renderResult(view worker.ResultView, conv *pricing.Converter) string {
	msg := "🏁 Game over\n"
	msg += separator

	switch view.Status {
	case model.StatusCompletedWin, model.StatusCompletedP1Win, model.StatusCompletedP2Win:
		msg += fmt.Sprintf("🎉 %s wins %s", view.ActorName, conv.Display(view.Payout))
	case model.StatusCompletedCashout:
		msg += fmt.Sprintf("💵 %s cashes out %s", view.ActorName, conv.Display(view.Payout))
	case model.StatusCompletedPush:
		msg += fmt.Sprintf("😐 Push - %s returned", conv.Display(view.Payout))
	case model.StatusCompletedTimeout:
		msg += fmt.Sprintf("⏰ %s ran out of time. Stake %s lost", view.ActorName, conv.Display(view.Stake))
	case model.StatusError:
		msg += "⚠️ The game could not continue and was voided"
	default:
		msg += fmt.Sprintf("😢 %s loses %s", view.ActorName, conv.Display(view.Stake))
	}

	return msg
}

func rollButton(sessionID string) tele.InlineButton {
	return tele.InlineButton{
		Text: "🎲 Roll",
		Data: EncodeCallback("roll", sessionID),
	}
}

func formatRolls(rolls []int) string {
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = fmt.Sprintf("🎲%d", r)
	}
	return strings.Join(parts, " ")
}
