package domain

import (
	"fmt"
	"strings"
)

// Conversation keys address either a channel broadcast ("channel:0") or
// a direct exchange with one node ("dm:!1234abcd").

func ChatKeyForChannel(index int) string {
	return fmt.Sprintf("channel:%d", index)
}

func ChatKeyForDM(nodeID string) string {
	return "dm:" + nodeID
}

func ChatKeyForMessage(m Message) string {
	if m.Channel == DMChannel {
		if m.Direction == MessageDirectionOut {
			return ChatKeyForDM(FormatNodeNum(m.ToNum))
		}

		return ChatKeyForDM(FormatNodeNum(m.FromNum))
	}

	return ChatKeyForChannel(m.Channel)
}

func IsDMKey(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), "dm:")
}

func NodeIDFromDMChatKey(key string) string {
	key = strings.TrimSpace(key)
	if !IsDMKey(key) {
		return ""
	}

	return strings.TrimPrefix(key, "dm:")
}
