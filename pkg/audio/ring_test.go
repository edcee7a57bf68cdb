package audio

import "testing"

func TestRingChunker_PushPopOrder(t *testing.T) {
	r := NewRingChunker(4)
	r.Push([]byte{1})
	r.Push([]byte{2})
	r.Push([]byte{3})

	got, ok := r.Pop()
	if !ok || got[0] != 1 {
		t.Fatalf("expected first chunk [1], got %v ok=%v", got, ok)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", r.Len())
	}
}

func TestRingChunker_DropsOldestOnOverflow(t *testing.T) {
	r := NewRingChunker(2)
	r.Push([]byte{1})
	r.Push([]byte{2})
	r.Push([]byte{3}) // should evict [1]

	got, ok := r.Pop()
	if !ok || got[0] != 2 {
		t.Fatalf("expected oldest surviving chunk [2], got %v ok=%v", got, ok)
	}
	if r.Dropped() != 1 {
		t.Errorf("expected 1 dropped chunk, got %d", r.Dropped())
	}
}

func TestRingChunker_PopEmptyReturnsFalse(t *testing.T) {
	r := NewRingChunker(2)
	_, ok := r.Pop()
	if ok {
		t.Error("expected Pop on empty ring to return false")
	}
}
