// Package ws runs the websocket side of a connection: it admits the client to the hub,
// pumps frames in both directions and removes the client when the transport closes.
package ws

import "time"

// Conn is the part of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}
