// Package event defines the realtime wire protocol: one JSON object per websocket text
// frame, discriminated by its "type" field.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

type Type string

const (
	TypeAuth         Type = "auth"
	TypeJoinChannel  Type = "join_channel"
	TypeLeaveChannel Type = "leave_channel"
	TypeNewMessage   Type = "new_message"
	TypeTyping       Type = "typing"
)

// Event is one decoded inbound frame. The concrete type is one of Auth, JoinChannel,
// LeaveChannel, NewMessage or Typing.
type Event interface {
	Type() Type
	isEvent()
}

type Auth struct {
	UserID int64
}

type JoinChannel struct {
	ChannelID int64
}

type LeaveChannel struct {
	ChannelID int64
}

// NewMessage carries a message the REST layer already persisted. Exactly one routing scope
// applies: ChannelID when set, otherwise RecipientID.
type NewMessage struct {
	ChannelID   *int64
	RecipientID *int64
	AuthorID    *int64
	Data        json.RawMessage
}

type Typing struct {
	ChannelID int64
	UserID    int64
	IsTyping  bool
}

func (Auth) Type() Type         { return TypeAuth }
func (JoinChannel) Type() Type  { return TypeJoinChannel }
func (LeaveChannel) Type() Type { return TypeLeaveChannel }
func (NewMessage) Type() Type   { return TypeNewMessage }
func (Typing) Type() Type       { return TypeTyping }

func (Auth) isEvent()         {}
func (JoinChannel) isEvent()  {}
func (LeaveChannel) isEvent() {}
func (NewMessage) isEvent()   {}
func (Typing) isEvent()       {}

// ChannelScoped reports whether the message fans out to a channel rather than to users.
func (m NewMessage) ChannelScoped() bool { return m.ChannelID != nil }

// envelope is the loose inbound shape; Decode narrows it to a concrete Event.
type envelope struct {
	Type        Type            `json:"type"`
	UserID      *int64          `json:"userId"`
	ChannelID   *int64          `json:"channelId"`
	RecipientID *int64          `json:"recipientId"`
	IsTyping    *bool           `json:"isTyping"`
	Data        json.RawMessage `json:"data"`
}

type messageAuthor struct {
	AuthorID *int64 `json:"authorId"`
}

// Decode parses one inbound frame. It returns an error wrapping apperr.ErrMalformedEvent
// when the frame is not a JSON object or lacks a field its type requires, and one wrapping
// apperr.ErrUnknownEvent when the type tag is not recognised.
func Decode(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeAuth:
		if env.UserID == nil {
			return nil, missing(env.Type, "userId")
		}
		return Auth{UserID: *env.UserID}, nil

	case TypeJoinChannel:
		if env.ChannelID == nil {
			return nil, missing(env.Type, "channelId")
		}
		return JoinChannel{ChannelID: *env.ChannelID}, nil

	case TypeLeaveChannel:
		if env.ChannelID == nil {
			return nil, missing(env.Type, "channelId")
		}
		return LeaveChannel{ChannelID: *env.ChannelID}, nil

	case TypeNewMessage:
		return decodeNewMessage(env)

	case TypeTyping:
		switch {
		case env.ChannelID == nil:
			return nil, missing(env.Type, "channelId")
		case env.UserID == nil:
			return nil, missing(env.Type, "userId")
		case env.IsTyping == nil:
			return nil, missing(env.Type, "isTyping")
		}
		return Typing{ChannelID: *env.ChannelID, UserID: *env.UserID, IsTyping: *env.IsTyping}, nil

	case "":
		return nil, missing(env.Type, "type")

	default:
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownEvent, env.Type)
	}
}

func decodeNewMessage(env envelope) (Event, error) {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: new_message data must be an object", apperr.ErrMalformedEvent)
	}
	var author messageAuthor
	if err := json.Unmarshal(data, &author); err != nil {
		return nil, fmt.Errorf("%w: new_message data: %v", apperr.ErrMalformedEvent, err)
	}

	msg := NewMessage{
		ChannelID:   env.ChannelID,
		RecipientID: env.RecipientID,
		AuthorID:    author.AuthorID,
		Data:        json.RawMessage(data),
	}
	if msg.ChannelID == nil {
		if msg.RecipientID == nil {
			return nil, missing(env.Type, "channelId or recipientId")
		}
		// direct messages echo to the author's other sessions, so the author is required
		if msg.AuthorID == nil {
			return nil, missing(env.Type, "data.authorId")
		}
	}
	return msg, nil
}

func missing(t Type, field string) error {
	return fmt.Errorf("%w: %s requires %s", apperr.ErrMalformedEvent, t, field)
}
