package cache

import (
	"testing"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

func entryAt(storedAt int64, ttl time.Duration) Entry {
	return Entry{StoredResponse: serializer.StoredResponse{StoredAt: time.UnixMilli(storedAt), TTL: ttl}}
}

func TestIsFreshBoundary(t *testing.T) {
	e := entryAt(10_000, 1000*time.Millisecond)
	for now, fresh := range map[int64]bool{
		10_000: true,
		10_999: true,
		11_000: true,
		11_001: false,
		20_000: false,
	} {
		if got := IsFresh(e, time.UnixMilli(now)); got != fresh {
			t.Fatalf("IsFresh at %d is %v, expected %v", now, got, fresh)
		}
	}
}

func TestIsFreshNeverReturns(t *testing.T) {
	e := entryAt(0, 50*time.Millisecond)
	stale := false
	for now := int64(0); now < 500; now++ {
		fresh := IsFresh(e, time.UnixMilli(now))
		if stale && fresh {
			t.Fatalf("Entry became fresh again at %d", now)
		}
		if !fresh {
			stale = true
		}
	}
	if !stale {
		t.Fatal("Entry never became stale")
	}
}

func TestIsFreshMissingMetadata(t *testing.T) {
	noTTL := entryAt(0, serializer.NoTTL)
	if !IsFresh(noTTL, time.UnixMilli(1<<40)) {
		t.Fatal("Entry without ttl should be fresh")
	}
	noStamp := Entry{StoredResponse: serializer.StoredResponse{TTL: time.Millisecond}}
	if !IsFresh(noStamp, time.Now()) {
		t.Fatal("Entry without stored-at should be fresh")
	}
}
