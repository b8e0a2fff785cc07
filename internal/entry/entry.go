// Package entry stores configured device sessions and drives their lifecycle.
//
// An Entry is the persisted form of one session: its kind and the JSON the
// kind's FromConfig understands. The Manager builds sessions from entries,
// sets them up, reloads them when their data changes and writes each
// session's MarshalConfig output back when it is unloaded, so state the
// session learns at runtime (a pruned cloud selection, say) survives a
// restart.
package entry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Errors returned by the entry store and manager.
var (
	// ErrEntryNotFound is returned when no entry has the given id.
	ErrEntryNotFound = errors.New("entry: not found")

	// ErrEntryExists is returned when creating an entry whose id is taken.
	ErrEntryExists = errors.New("entry: already exists")

	// ErrUnknownKind is returned for an entry kind with no session builder.
	ErrUnknownKind = errors.New("entry: unknown kind")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("entry: invalid")
)

// Entry is one configured device session.
type Entry struct {
	ID        string          `json:"id"`
	Kind      session.Kind    `json:"kind"`
	Title     string          `json:"title"`
	Data      json.RawMessage `json:"data"`
	Disabled  bool            `json:"disabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks the fields the store requires.
func (e Entry) Validate() error {
	if e.ID == "" {
		return errors.Join(ErrInvalidEntry, errors.New("id is required"))
	}
	if e.Kind == "" {
		return errors.Join(ErrInvalidEntry, errors.New("kind is required"))
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return errors.Join(ErrInvalidEntry, errors.New("data is not valid JSON"))
	}
	return nil
}

func (e Entry) data() []byte {
	if len(e.Data) == 0 {
		return []byte("{}")
	}
	return e.Data
}
