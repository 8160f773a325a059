package hub

// Tracker maintains per-connection channel membership in the registry.
//
// Joins are not checked against durable channel membership: any connection may join any
// channel id and receive its traffic.
type Tracker struct {
	reg *Registry
}

func NewTracker(reg *Registry) *Tracker {
	return &Tracker{reg: reg}
}

// Join adds channelID to c. It reports false when c is not registered or already joined.
func (t *Tracker) Join(c *Client, channelID int64) bool {
	if !t.reg.Has(c) || c.InChannel(channelID) {
		return false
	}
	c.channels[channelID] = struct{}{}
	addIndex(t.reg.byChannel, channelID, c)
	return true
}

// Leave removes channelID from c. It reports false when there was nothing to remove.
func (t *Tracker) Leave(c *Client, channelID int64) bool {
	if !t.reg.Has(c) || !c.InChannel(channelID) {
		return false
	}
	delete(c.channels, channelID)
	removeIndex(t.reg.byChannel, channelID, c)
	return true
}
