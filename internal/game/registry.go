package game

import (
	"sync"

	"github.com/tabletophq/tabletop/internal/protocol"
)

// Registry maps game type tags to factories. Client and server processes
// each hold their own Registry; the two need not agree. All methods are safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string // registration order, for stable listing
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under its descriptor's type id. Re-registering
// the identical factory value is a no-op; a different factory under an
// already-claimed tag is rejected.
//
// Postcondition: Returns nil, or a DuplicateGameType error leaving the
// existing registration untouched.
func (r *Registry) Register(f Factory) error {
	tag := f.Descriptor().TypeID

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.factories[tag]; ok {
		if existing == f {
			return nil
		}
		return protocol.NewError(protocol.CodeDuplicateGameType,
			"game type %q is already registered", tag)
	}
	r.factories[tag] = f
	r.order = append(r.order, tag)
	return nil
}

// Create instantiates a fresh module for the given type tag.
//
// Postcondition: Returns a new Module, or an UnknownGameType error.
func (r *Registry) Create(typeID string) (Module, error) {
	r.mu.RLock()
	f, ok := r.factories[typeID]
	r.mu.RUnlock()

	if !ok {
		return nil, protocol.NewError(protocol.CodeUnknownGameType,
			"game type %q is not registered", typeID)
	}
	return f.New(), nil
}

// Factory returns the factory registered under the given type tag.
func (r *Registry) Factory(typeID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeID]
	return f, ok
}

// Descriptors lists the registered games in registration order.
func (r *Registry) Descriptors() []protocol.GameDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.GameDescriptor, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.factories[tag].Descriptor())
	}
	return out
}

// DecodeState decodes a tagged state payload through the owning factory.
//
// Postcondition: Returns the decoded State, an UnknownGameType error for an
// unregistered tag, or a PayloadDecodeError for malformed inner bytes.
func (r *Registry) DecodeState(p protocol.TaggedPayload) (State, error) {
	f, ok := r.Factory(p.TypeTag)
	if !ok {
		return nil, protocol.NewError(protocol.CodeUnknownGameType,
			"no decoder for game type %q", p.TypeTag)
	}
	s, err := f.DecodeState(p.Data)
	if err != nil {
		return nil, protocol.NewError(protocol.CodePayloadDecode,
			"decoding %s state: %v", p.TypeTag, err)
	}
	return s, nil
}

// DecodeMove decodes a tagged move payload through the owning factory.
//
// Postcondition: Returns the decoded Move, an UnknownGameType error for an
// unregistered tag, or a PayloadDecodeError for malformed inner bytes.
func (r *Registry) DecodeMove(p protocol.TaggedPayload) (Move, error) {
	f, ok := r.Factory(p.TypeTag)
	if !ok {
		return nil, protocol.NewError(protocol.CodeUnknownGameType,
			"no decoder for game type %q", p.TypeTag)
	}
	mv, err := f.DecodeMove(p.Data)
	if err != nil {
		return nil, protocol.NewError(protocol.CodePayloadDecode,
			"decoding %s move: %v", p.TypeTag, err)
	}
	return mv, nil
}
