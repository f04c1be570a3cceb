package server

// SessionRegistry holds the live sessions of one room. Like HistoryLog it is
// only touched from the owning RoomHub.
type SessionRegistry struct {
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

func (r *SessionRegistry) Add(s *Session) {
	r.sessions[s.Id] = s
}

// Remove returns the removed session, or nil if it was not registered.
func (r *SessionRegistry) Remove(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a snapshot safe to iterate while the registry changes.
func (r *SessionRegistry) List() []*Session {
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

func (r *SessionRegistry) Count() int {
	return len(r.sessions)
}
