package store

import "github.com/ashita-ai/kanri/internal/model"

// ChangeKind classifies a store notification.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeStatus    ChangeKind = "status"
	ChangeUpdated   ChangeKind = "updated"
	ChangeActivity  ChangeKind = "activity"
	ChangeAgent     ChangeKind = "agent"
	ChangeRootCause ChangeKind = "root-cause"
)

// Change describes one committed mutation. Data holds a copy of the record
// after the change.
type Change struct {
	Kind   ChangeKind
	Entity model.EntityRef
	From   string
	To     string
	Data   any
}

// Observer receives committed changes. Observers run after every lock has
// been released, on the goroutine that made the change.
type Observer func(Change)

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.obsMu.RLock()
	obs := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if o, ok := s.observers[i]; ok {
			obs = append(obs, o)
		}
	}
	s.obsMu.RUnlock()
	for _, c := range changes {
		for _, o := range obs {
			o(c)
		}
	}
}
