package cache

import "time"

// IsFresh reports whether the entry is still within its time to live at now.
// Entries without a stored-at timestamp or a ttl are fresh indefinitely.
func IsFresh(e Entry, now time.Time) bool {
	if e.StoredAt.IsZero() || e.TTL < 0 {
		return true
	}
	return now.UnixMilli()-e.StoredAt.UnixMilli() <= e.TTL.Milliseconds()
}
