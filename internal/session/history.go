// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/echo/internal/model"

// TrimHistory selects the context sent with a request: every system
// message, then the last pairs user-led exchanges. An exchange is a user
// message and the assistant reply that directly follows it; a user
// message without a reply is an exchange of its own. Assistant messages
// not preceded by a user message are dropped, as are blank messages.
// pairs <= 0 keeps every exchange.
func TrimHistory(msgs []model.Message, pairs int) []model.Message {
	var system, conversation []model.Message
	for _, m := range msgs {
		switch {
		case m.IsBlank():
		case m.Role == model.RoleSystem:
			system = append(system, m)
		default:
			conversation = append(conversation, m)
		}
	}

	exchanges := groupExchanges(conversation)
	if pairs > 0 && len(exchanges) > pairs {
		exchanges = exchanges[len(exchanges)-pairs:]
	}

	out := make([]model.Message, 0, len(msgs))
	out = append(out, system...)
	for _, ex := range exchanges {
		out = append(out, ex...)
	}
	return out
}

func groupExchanges(msgs []model.Message) [][]model.Message {
	var exchanges [][]model.Message
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != model.RoleUser {
			continue
		}
		ex := []model.Message{msgs[i]}
		if i+1 < len(msgs) && msgs[i+1].Role == model.RoleAssistant {
			ex = append(ex, msgs[i+1])
			i++
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges
}
