package logging

import (
	"sync"
	"testing"
)

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
		{"small bucket size", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if len(s.buckets) != 0 {
				t.Errorf("expected empty bucket map, got %d entries", len(s.buckets))
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("4DNFI1", 50) {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Forget("4DNFI1")
	s.Reset() // should not panic
}

func TestProgressSampler_ShouldLogPercentBuckets(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog("a", 0) {
		t.Error("0% should log")
	}
	if s.ShouldLog("a", 3) {
		t.Error("3% should not log (same bucket)")
	}
	if !s.ShouldLog("a", 5) {
		t.Error("5% should log (new bucket)")
	}
	if s.ShouldLog("a", 7) {
		t.Error("7% should not log (same bucket)")
	}
	if !s.ShouldLog("a", 10) {
		t.Error("10% should log (new bucket)")
	}
}

func TestProgressSampler_KeysAreIndependent(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog("a", 50)
	if !s.ShouldLog("b", 10) {
		t.Error("a new key should log regardless of other keys")
	}
	if s.ShouldLog("a", 52) {
		t.Error("key a should keep its own bucket")
	}
}

func TestProgressSampler_ShouldLogNegativePercent(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog("x", -1) {
		t.Error("first call should log even with negative percent")
	}
	if s.ShouldLog("x", -1) {
		t.Error("negative percent should not trigger bucket logging")
	}
}

func TestProgressSampler_ShouldLogCaps100Percent(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog("x", 95)
	if !s.ShouldLog("x", 100) {
		t.Error("100% should log")
	}
	if s.ShouldLog("x", 105) {
		t.Error("105% should not log again (same as 100% bucket)")
	}
}

func TestProgressSampler_ForgetAndReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog("x", 50)

	s.Forget("x")
	if !s.ShouldLog("x", 50) {
		t.Error("should log after forget")
	}

	s.Reset()
	if len(s.buckets) != 0 {
		t.Errorf("expected empty map after reset, got %d", len(s.buckets))
	}
	if !s.ShouldLog("x", 50) {
		t.Error("should log after reset")
	}
}

func TestProgressSampler_ConcurrentUse(t *testing.T) {
	s := NewProgressSampler(1)
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for pct := 0; pct <= 100; pct++ {
				s.ShouldLog(key, float64(pct))
			}
		}(key)
	}
	wg.Wait()
	if len(s.buckets) != 4 {
		t.Fatalf("expected 4 tracked keys, got %d", len(s.buckets))
	}
}
