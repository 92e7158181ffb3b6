package services

import (
	"errors"
	"math"
	"testing"

	"github.com/clipsight/clipsight-backend/internal/apperr"
)

func TestL2Norm(t *testing.T) {
	if got := l2Norm([]float32{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Fatalf("l2Norm([3 4]) = %v, want 5", got)
	}
	if got := l2Norm(nil); got != 0 {
		t.Fatalf("l2Norm(nil) = %v, want 0", got)
	}
}

func TestCheckVectorDimMismatch(t *testing.T) {
	svc := &embedProviderService{dim: 3}
	if _, err := svc.checkVector([]float32{1, 0}); !errors.Is(err, apperr.ErrProvider) {
		t.Fatalf("expected ErrProvider for dim mismatch, got %v", err)
	}
}

func TestCheckVectorZeroVector(t *testing.T) {
	svc := &embedProviderService{dim: 3}
	if _, err := svc.checkVector([]float32{0, 0, 0}); !errors.Is(err, apperr.ErrProvider) {
		t.Fatalf("expected ErrProvider for zero vector, got %v", err)
	}
}

func TestCheckVectorRenormalizesDrift(t *testing.T) {
	svc := &embedProviderService{dim: 2}
	vec, err := svc.checkVector([]float32{3, 4})
	if err != nil {
		t.Fatalf("checkVector: %v", err)
	}
	if norm := l2Norm(vec); math.Abs(norm-1) > 1e-6 {
		t.Fatalf("vector should come back unit-normalized, norm = %v", norm)
	}
}

func TestCheckVectorAcceptsMildDrift(t *testing.T) {
	svc := &embedProviderService{dim: 2}
	in := []float32{1.004, 0}
	vec, err := svc.checkVector(in)
	if err != nil {
		t.Fatalf("checkVector: %v", err)
	}
	// Within tolerance the vector passes through untouched.
	if vec[0] != in[0] {
		t.Fatalf("mild drift should not be rescaled, got %v", vec[0])
	}
}
