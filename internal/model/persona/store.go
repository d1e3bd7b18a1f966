package persona

// Store exposes the tone catalog for HTTP handlers.
type Store interface {
	List() []Tone
	Recognized(id string) bool
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Tone
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied tones.
func NewMemoryStore(items []Tone) *MemoryStore {
	return &MemoryStore{items: append([]Tone(nil), items...)}
}

// List returns the known tones in display order.
func (s *MemoryStore) List() []Tone {
	return append([]Tone(nil), s.items...)
}

// Recognized reports whether id is one of the catalog tones.
func (s *MemoryStore) Recognized(id string) bool {
	for _, item := range s.items {
		if item.ID == id {
			return true
		}
	}
	return false
}
