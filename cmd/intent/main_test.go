package main

import (
	"testing"

	"voxelhand.ai/internal/world"
)

func TestParseVec(t *testing.T) {
	v, err := parseVec("12, -3,40")
	if err != nil || v != world.V(12, -3, 40) {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := parseVec("1,2"); err == nil {
		t.Fatalf("expected error for two components")
	}
}
