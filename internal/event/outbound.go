package event

import "encoding/json"

// MessageOut is the server→client form of new_message.
type MessageOut struct {
	Type    Type            `json:"type"`
	Message json.RawMessage `json:"message"`
}

// TypingOut is the server→client form of typing; it mirrors the inbound fields.
type TypingOut struct {
	Type      Type  `json:"type"`
	UserID    int64 `json:"userId"`
	ChannelID int64 `json:"channelId"`
	IsTyping  bool  `json:"isTyping"`
}

func EncodeMessage(m NewMessage) ([]byte, error) {
	return json.Marshal(MessageOut{Type: TypeNewMessage, Message: m.Data})
}

func EncodeTyping(t Typing) ([]byte, error) {
	return json.Marshal(TypingOut{
		Type:      TypeTyping,
		UserID:    t.UserID,
		ChannelID: t.ChannelID,
		IsTyping:  t.IsTyping,
	})
}
