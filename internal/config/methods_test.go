package config

import "testing"

func TestAllMethods(t *testing.T) {
	methods := AllMethods()

	expected := map[string]bool{
		MethodReviewFile:      true,
		MethodScannersList:    true,
		MethodScannersRefresh: true,
	}
	if len(methods) != len(expected) {
		t.Fatalf("Expected %d methods, got %d", len(expected), len(methods))
	}
	for _, m := range methods {
		if !expected[m] {
			t.Errorf("Unexpected method %s", m)
		}
	}
}
