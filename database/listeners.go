package database

// AlbumListener is notified after an album's identity changed. Saved
// searches, picture directories and UI caches hang off album names and use
// it to follow renames and removals. Callbacks run on the caller's
// goroutine while the session is locked and must not call back into it.
type AlbumListener interface {
	AlbumRenamed(oldName, newName string)
	AlbumRemoved(name string)
}

// AddListener registers l for album notifications.
func (s *Session) AddListener(l AlbumListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Session) notifyRenamed(oldName, newName string) {
	for _, l := range s.listeners {
		l.AlbumRenamed(oldName, newName)
	}
}

func (s *Session) notifyRemoved(name string) {
	for _, l := range s.listeners {
		l.AlbumRemoved(name)
	}
}
