package blobcache

import "fmt"

// ErrEntryNotFound is returned by Get when no entry exists for the key in
// the requested tier.
type ErrEntryNotFound struct {
	Tier string
	Key  string
}

func (e *ErrEntryNotFound) Error() string {
	return fmt.Sprintf("blobcache: entry not found: %s/%s", e.Tier, e.Key)
}
