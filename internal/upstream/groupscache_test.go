package upstream

import (
	"testing"

	"go.uber.org/zap"
)

func TestGroupListCacheSetThenGet(t *testing.T) {
	c := newGroupListCache(zap.NewNop())
	chats := []Chat{{ID: 1, Title: "Alpha", Type: ChatTypeGroup}, {ID: 2, Title: "Beta", Type: ChatTypeChannel}}

	if _, ok := c.Get(42); ok {
		t.Fatalf("expected cache miss before any Set")
	}

	c.Set(42, chats)
	got, ok := c.Get(42)
	if !ok {
		t.Fatalf("expected cache hit after Set")
	}
	if len(got) != 2 || got[0].Title != "Alpha" || got[1].Title != "Beta" {
		t.Fatalf("decoded chats mismatch: %+v", got)
	}
}

func TestGroupListCacheIsPerUser(t *testing.T) {
	c := newGroupListCache(zap.NewNop())
	c.Set(1, []Chat{{ID: 10, Title: "One"}})
	c.Set(2, []Chat{{ID: 20, Title: "Two"}})

	got1, ok1 := c.Get(1)
	got2, ok2 := c.Get(2)
	if !ok1 || !ok2 {
		t.Fatalf("expected both users to have cache entries")
	}
	if got1[0].Title != "One" || got2[0].Title != "Two" {
		t.Fatalf("cache entries bled between users: got1=%+v got2=%+v", got1, got2)
	}
}

func TestGroupListCacheInvalidate(t *testing.T) {
	c := newGroupListCache(zap.NewNop())
	c.Set(7, []Chat{{ID: 1, Title: "X"}})
	if _, ok := c.Get(7); !ok {
		t.Fatalf("expected cache hit before invalidation")
	}
	c.Invalidate(7)
	if _, ok := c.Get(7); ok {
		t.Fatalf("expected cache miss after Invalidate")
	}
}
