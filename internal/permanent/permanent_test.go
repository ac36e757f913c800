package permanent

import (
	"errors"
	"fmt"
	"testing"
)

func TestMarkAndIs(t *testing.T) {
	t.Parallel()

	root := errors.New("payload rejected")
	marked := Mark(root)

	if !Is(marked) {
		t.Fatal("expected marked error to be permanent")
	}
	if !errors.Is(marked, root) {
		t.Fatal("expected wrapped cause to survive")
	}
	if Is(root) {
		t.Fatal("expected unmarked error to be retryable")
	}
	if Mark(nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestIsSeesMarkerThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("send failed: %w", Mark(errors.New("bad request")))
	if !Is(wrapped) {
		t.Fatal("expected marker visible through fmt.Errorf wrapping")
	}
}
