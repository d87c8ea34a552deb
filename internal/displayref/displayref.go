// Package displayref maps live media payloads to short opaque handles that a
// client can render. A handle stays resolvable until it is revoked.
package displayref

import (
	"errors"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const scheme = "blob:"

var ErrAlreadyMinted = errors.New("display reference already minted for id")

type Ref string

func (r Ref) String() string { return string(r) }

// Valid reports whether r has the shape of a minted reference.
func (r Ref) Valid() bool {
	rest, ok := strings.CutPrefix(string(r), scheme)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}

type entry struct {
	id      string
	payload []byte
	mime    string
}

type Registry struct {
	mu    sync.Mutex
	byRef map[Ref]entry
	byID  map[string]Ref
}

func NewRegistry() *Registry {
	return &Registry{
		byRef: make(map[Ref]entry),
		byID:  make(map[string]Ref),
	}
}

// Mint creates the reference for id. An id can hold at most one live
// reference; the old one must be revoked first.
func (r *Registry) Mint(id string, payload []byte) (Ref, error) {
	mime := mimetype.Detect(payload).String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return "", ErrAlreadyMinted
	}
	ref := Ref(scheme + uuid.NewString())
	r.byRef[ref] = entry{id: id, payload: payload, mime: mime}
	r.byID[id] = ref
	return ref, nil
}

// Revoke releases ref. It reports true only the first time.
func (r *Registry) Revoke(ref Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeLocked(ref)
}

func (r *Registry) RevokeID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.byID[id]
	if !ok {
		return false
	}
	return r.revokeLocked(ref)
}

func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.byRef)
	r.byRef = make(map[Ref]entry)
	r.byID = make(map[string]Ref)
	return n
}

func (r *Registry) revokeLocked(ref Ref) bool {
	e, ok := r.byRef[ref]
	if !ok {
		return false
	}
	delete(r.byRef, ref)
	delete(r.byID, e.id)
	return true
}

// Resolve returns the payload and sniffed MIME type behind a live reference.
func (r *Registry) Resolve(ref Ref) ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return nil, "", false
	}
	return e.payload, e.mime, true
}

func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRef)
}
