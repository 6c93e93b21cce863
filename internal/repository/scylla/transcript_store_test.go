package scylla

import (
	"testing"
	"time"
)

func TestBucketDate(t *testing.T) {
	in := time.Date(2026, 3, 4, 23, 59, 59, 0, time.FixedZone("EST", -5*3600))
	got := bucketDate(in)
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
