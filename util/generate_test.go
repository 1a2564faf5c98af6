package util_test

import (
	"testing"

	"github.com/downfa11-org/bookie/util"
	"github.com/google/uuid"
)

func TestGenerateID(t *testing.T) {
	id1 := util.GenerateID()
	id2 := util.GenerateID()

	if id1 == id2 {
		t.Errorf("Expected different IDs, got %s twice", id1)
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("Expected a valid uuid, got %q: %v", id1, err)
	}
}
