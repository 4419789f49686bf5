package store

import "fmt"

// Kind names a record kind in errors and cleanup reports.
type Kind string

const (
	KindDevotional Kind = "devotional"
	KindPrayer     Kind = "prayer"
	KindVerse      Kind = "bible_verse"
	KindMaterial   Kind = "study_material"
)

// ErrRecordNotFound is returned when no record exists for the key.
type ErrRecordNotFound struct {
	Kind Kind
	Key  string
}

func (e *ErrRecordNotFound) Error() string {
	return fmt.Sprintf("store: %s not found: %s", e.Kind, e.Key)
}
