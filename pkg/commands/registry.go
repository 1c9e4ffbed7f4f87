package commands

// Handler executes a canonical command and returns a fixed natural-language
// acknowledgment.
type Handler func() string

// Entry binds a spoken phrase to its canonical command and handler.
type Entry struct {
	Phrase    string
	Canonical string
	Handler   Handler
}

// Registry is the static phrase table. It is built once at startup and
// read-only during operation, so lookups need no locking.
type Registry struct {
	entries map[string]Entry
	phrases []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(phrase, canonical string, handler Handler) {
	if _, exists := r.entries[phrase]; !exists {
		r.phrases = append(r.phrases, phrase)
	}
	r.entries[phrase] = Entry{Phrase: phrase, Canonical: canonical, Handler: handler}
}

func (r *Registry) Lookup(phrase string) (Entry, bool) {
	e, ok := r.entries[phrase]
	return e, ok
}

// Phrases returns every registered phrase in registration order.
func (r *Registry) Phrases() []string {
	return r.phrases
}

// Canonical returns the canonical command for a phrase, or the phrase itself
// when unregistered.
func (r *Registry) Canonical(phrase string) string {
	if e, ok := r.entries[phrase]; ok {
		return e.Canonical
	}
	return phrase
}
