package common

import (
	"testing"
)

func TestRingBufferFillAndWrap(t *testing.T) {
	r := NewRingBuffer(4)
	for i := 1; i <= 3; i++ {
		r.Push(float32(i))
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if r.At(0) != 1 || r.At(2) != 3 {
		t.Errorf("At order wrong: %v %v", r.At(0), r.At(2))
	}

	// wrap: oldest overwritten
	r.Push(4)
	r.Push(5)
	if r.Len() != 4 {
		t.Fatalf("Len after wrap = %d, want 4", r.Len())
	}
	want := []float32{2, 3, 4, 5}
	snap := r.Snapshot(nil)
	for i, w := range want {
		if snap[i] != w {
			t.Errorf("Snapshot[%d] = %v, want %v", i, snap[i], w)
		}
	}
}

func TestRingBufferReconfigureKeepsNewest(t *testing.T) {
	r := NewRingBuffer(5)
	for i := 1; i <= 5; i++ {
		r.Push(float32(i))
	}
	r.Reconfigure(3)
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	want := []float32{3, 4, 5}
	for i, w := range want {
		if r.At(i) != w {
			t.Errorf("At(%d) = %v, want %v", i, r.At(i), w)
		}
	}
}

func TestRingBufferSnapshotReuse(t *testing.T) {
	r := NewRingBuffer(2)
	r.Push(1)
	r.Push(2)
	buf := make([]float32, 0, 8)
	snap := r.Snapshot(buf)
	if len(snap) != 2 || snap[0] != 1 || snap[1] != 2 {
		t.Errorf("Snapshot = %v, want [1 2]", snap)
	}
}
