package secret

import "time"

// EventKind names a lifecycle transition of a secret.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventUpdated     EventKind = "updated"
	EventRotated     EventKind = "rotated"
	EventDeactivated EventKind = "deactivated"
)

// Event is one entry of a secret's append-only lifecycle log. The current
// Record of a secret is the projection of its events in order.
type Event struct {
	Seq   uint64    `json:"seq" yaml:"seq"`
	Kind  EventKind `json:"kind" yaml:"kind"`
	Name  string    `json:"name" yaml:"name"`
	At    time.Time `json:"at" yaml:"at"`
	Actor string    `json:"actor" yaml:"actor"`

	// ValueHash is set on created, updated and rotated events.
	ValueHash string `json:"value_hash,omitempty" yaml:"value_hash,omitempty"`

	// Attributes are set on created events, and on updated events only when
	// the caller supplied them.
	Environment           Environment    `json:"environment,omitempty" yaml:"environment,omitempty"`
	Classification        Classification `json:"classification,omitempty" yaml:"classification,omitempty"`
	Owner                 string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	Purpose               string         `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	RotationFrequencyDays *int           `json:"rotation_frequency_days,omitempty" yaml:"rotation_frequency_days,omitempty"`
}

// Apply returns r with e folded in. Apply never mutates r.
func (r Record) Apply(e Event) Record {
	switch e.Kind {
	case EventCreated:
		r = Record{
			Name:           e.Name,
			ValueHash:      e.ValueHash,
			CreatedAt:      e.At,
			LastRotated:    e.At,
			Environment:    e.Environment,
			Classification: e.Classification,
			Owner:          e.Owner,
			Purpose:        e.Purpose,
			IsActive:       true,
		}
		if e.RotationFrequencyDays != nil {
			r.RotationFrequencyDays = *e.RotationFrequencyDays
		}
	case EventUpdated:
		if e.ValueHash != r.ValueHash {
			r.RotationsCount++
			r.LastRotated = e.At
		}
		r.ValueHash = e.ValueHash
		r.IsActive = true
		r.applyAttributes(e)
	case EventRotated:
		r.ValueHash = e.ValueHash
		r.RotationsCount++
		r.LastRotated = e.At
	case EventDeactivated:
		r.IsActive = false
	}
	return r
}

func (r *Record) applyAttributes(e Event) {
	if e.Environment != "" {
		r.Environment = e.Environment
	}
	if e.Classification.Valid() {
		r.Classification = e.Classification
	}
	if e.Owner != "" {
		r.Owner = e.Owner
	}
	if e.Purpose != "" {
		r.Purpose = e.Purpose
	}
	if e.RotationFrequencyDays != nil {
		r.RotationFrequencyDays = *e.RotationFrequencyDays
	}
}

// Project reduces an ordered event log to the record it describes.
// It reports false when the log holds no created event.
func Project(events []Event) (Record, bool) {
	var (
		r       Record
		created bool
	)
	for _, e := range events {
		if e.Kind == EventCreated {
			created = true
		}
		if !created {
			continue
		}
		r = r.Apply(e)
	}
	return r, created
}
