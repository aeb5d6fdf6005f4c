package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 25},
		{"default bucket size for negative", -1, 25},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "upload") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSamplerStageChange(t *testing.T) {
	s := NewProgressSampler(25)

	if !s.ShouldLog(-1, "upload") {
		t.Error("first stage should log")
	}
	if s.ShouldLog(-1, "upload") {
		t.Error("same stage without percent should not log again")
	}
	if !s.ShouldLog(-1, "transcode") {
		t.Error("different stage should log")
	}
	if s.lastStage != "transcode" {
		t.Errorf("lastStage = %q, want transcode", s.lastStage)
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		percent float64
		want    bool
	}{
		{0, true},
		{10, false},
		{26, true},
		{49, false},
		{50, true},
		{120, true},
		{100, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog(step.percent, "transcode"); got != step.want {
			t.Fatalf("ShouldLog(%v) = %v, want %v", step.percent, got, step.want)
		}
	}

	s.Reset()
	if !s.ShouldLog(10, "transcode") {
		t.Fatal("expected log after reset")
	}
}
