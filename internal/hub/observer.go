package hub

import "time"

// Observer receives counters from the hub loop. Implementations must not block.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed(authenticated bool)
	Authenticated()
	EventReceived(eventType string)
	EventDropped(reason string)
	Delivered(n int)
	DeliveryFailed(reason string)
}

// PresenceSink is told when a user gains or loses a live connection.
// Implementations must not block the hub loop.
type PresenceSink interface {
	Online(userID int64, connID string)
	Offline(userID int64, connID string)
}

// Activity is routing metadata for one fanned-out message. It never carries the body.
type Activity struct {
	Type         string    `json:"type"`
	ChannelID    *int64    `json:"channel_id,omitempty"`
	RecipientID  *int64    `json:"recipient_id,omitempty"`
	AuthorID     *int64    `json:"author_id,omitempty"`
	ConnectionID string    `json:"connection_id"`
	Recipients   int       `json:"recipients"`
	At           time.Time `json:"at"`
}

// ActivitySink receives an Activity per routed message. Implementations must not block.
type ActivitySink interface {
	MessageRouted(a Activity)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()     {}
func (nopObserver) ConnectionClosed(bool) {}
func (nopObserver) Authenticated()        {}
func (nopObserver) EventReceived(string)  {}
func (nopObserver) EventDropped(string)   {}
func (nopObserver) Delivered(int)         {}
func (nopObserver) DeliveryFailed(string) {}

type nopPresence struct{}

func (nopPresence) Online(int64, string)  {}
func (nopPresence) Offline(int64, string) {}

type nopActivity struct{}

func (nopActivity) MessageRouted(Activity) {}
