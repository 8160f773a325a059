package hub

// Registry holds the live connections and the user and channel indexes over them.
// It is not safe for concurrent use; the Hub confines it to its loop goroutine.
type Registry struct {
	clients   map[*Client]struct{}
	byUser    map[int64]map[*Client]struct{}
	byChannel map[int64]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[*Client]struct{}),
		byUser:    make(map[int64]map[*Client]struct{}),
		byChannel: make(map[int64]map[*Client]struct{}),
	}
}

// Register admits c unauthenticated with no channels.
func (r *Registry) Register(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *Registry) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Authenticate binds userID to c. Only the first call for a registered client takes effect;
// it reports whether the identity was bound.
func (r *Registry) Authenticate(c *Client, userID int64) bool {
	if !r.Has(c) || c.authenticated {
		return false
	}
	c.userID = userID
	c.authenticated = true
	addIndex(r.byUser, userID, c)
	return true
}

// Remove drops c and all of its membership. Removing an unknown client is a no-op.
func (r *Registry) Remove(c *Client) bool {
	if !r.Has(c) {
		return false
	}
	delete(r.clients, c)
	if c.authenticated {
		removeIndex(r.byUser, c.userID, c)
	}
	for ch := range c.channels {
		removeIndex(r.byChannel, ch, c)
	}
	c.channels = make(map[int64]struct{})
	return true
}

// ForEach visits every live client. Removing clients from inside visit is allowed.
func (r *Registry) ForEach(visit func(c *Client)) {
	for c := range r.clients {
		visit(c)
	}
}

func (r *Registry) forChannel(channelID int64, visit func(c *Client)) {
	for c := range r.byChannel[channelID] {
		visit(c)
	}
}

func (r *Registry) forUser(userID int64, visit func(c *Client)) {
	for c := range r.byUser[userID] {
		visit(c)
	}
}

func (r *Registry) Len() int { return len(r.clients) }

func (r *Registry) Stats() Stats {
	authed := 0
	for c := range r.clients {
		if c.authenticated {
			authed++
		}
	}
	return Stats{
		Connections:   len(r.clients),
		Authenticated: authed,
		Users:         len(r.byUser),
		Channels:      len(r.byChannel),
	}
}

type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Users         int `json:"users"`
	Channels      int `json:"channels"`
}

func addIndex(idx map[int64]map[*Client]struct{}, key int64, c *Client) {
	set, ok := idx[key]
	if !ok {
		set = make(map[*Client]struct{})
		idx[key] = set
	}
	set[c] = struct{}{}
}

func removeIndex(idx map[int64]map[*Client]struct{}, key int64, c *Client) {
	if set, ok := idx[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
