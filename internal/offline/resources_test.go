package offline

import (
	"context"
	"errors"
	"testing"
)

func TestResourcesFirstTokenWins(t *testing.T) {
	b := newFakeBackend()
	res := NewResources(b)
	ctx := context.Background()

	first, err := res.StylePacks(ctx, "token-a")
	if err != nil {
		t.Fatalf("StylePacks: %v", err)
	}
	again, err := res.StylePacks(ctx, "token-b")
	if err != nil {
		t.Fatalf("StylePacks: %v", err)
	}
	if first != again {
		t.Fatalf("second call opened a new manager")
	}
	if tok, ok := res.AccessToken(); !ok || tok != "token-a" {
		t.Fatalf("AccessToken = %q, %v", tok, ok)
	}

	if err := res.Reconfigure(ctx, "token-b"); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	replaced, _ := res.StylePacks(ctx, "")
	if replaced == first || replaced.(*fakeStyles).token != "token-b" {
		t.Fatalf("Reconfigure did not replace the manager")
	}
	if err := res.Reconfigure(ctx, ""); !errors.Is(err, ErrResourcesUnavailable) {
		t.Fatalf("Reconfigure(empty) = %v", err)
	}
	if tok, _ := res.AccessToken(); tok != "token-b" {
		t.Fatalf("failed Reconfigure changed token to %q", tok)
	}
}

func TestResourcesOpenFailure(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("disk full")
	res := NewResources(b)

	if _, err := res.Tiles(context.Background()); !errors.Is(err, ErrResourcesUnavailable) {
		t.Fatalf("Tiles err = %v", err)
	}
	if _, err := res.StylePacks(context.Background(), "t"); !errors.Is(err, ErrResourcesUnavailable) {
		t.Fatalf("StylePacks err = %v", err)
	}
	if _, err := NewResources(nil).Tiles(context.Background()); !errors.Is(err, ErrResourcesUnavailable) {
		t.Fatalf("nil backend err = %v", err)
	}
}
