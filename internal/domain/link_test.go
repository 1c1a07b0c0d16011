package domain

import (
	"testing"
	"time"
)

func TestLinkValidate(t *testing.T) {
	a := NewNode("topo", []string{"a"}, "")
	b := NewNode("topo", []string{"b"}, "")

	t.Run("valid link", func(t *testing.T) {
		link := NewLink("topo", a, b, 1)
		if err := link.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("self-loop fails validation", func(t *testing.T) {
		link := NewLink("topo", a, a, 1)
		if err := link.Validate(); !IsValidation(err) {
			t.Errorf("expected validation error for self-loop, got %v", err)
		}
	})

	t.Run("unknown status fails validation", func(t *testing.T) {
		link := NewLink("topo", a, b, 1)
		link.Status = "flapping"
		if err := link.Validate(); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestLinkSetStatus(t *testing.T) {
	a := NewNode("topo", []string{"a"}, "")
	b := NewNode("topo", []string{"b"}, "")
	link := NewLink("topo", a, b, 1)
	before := link.StatusChanged
	now := before.Add(time.Hour)

	if link.SetStatus(LinkStatusUp, now) {
		t.Error("setting the same status must not report a flip")
	}
	if !link.StatusChanged.Equal(before) {
		t.Error("status_changed must not move without a flip")
	}

	if !link.SetStatus(LinkStatusDown, now) {
		t.Error("expected flip to down")
	}
	if !link.StatusChanged.Equal(now) {
		t.Errorf("expected status_changed %v, got %v", now, link.StatusChanged)
	}
}

func TestLinkKey(t *testing.T) {
	if LinkKey("a", "b") != LinkKey("b", "a") {
		t.Error("expected reversed endpoints to produce the same key")
	}
	if LinkKey("a", "b") == LinkKey("a", "c") {
		t.Error("expected different endpoints to produce different keys")
	}
	// Addresses containing the old separator must not collide
	if LinkKey("a|b", "c") == LinkKey("a", "b|c") {
		t.Error("expected pairs sharing a joined form to produce different keys")
	}
}

func TestLinkGraph(t *testing.T) {
	link := &Link{
		SourceAddress: "a",
		TargetAddress: "b",
		Cost:          1.5,
		CostText:      "1.5",
		Status:        LinkStatusDown,
		Properties:    map[string]any{"weight": 3},
	}

	original := link.Graph(true)
	if _, ok := original.Properties["status"]; ok {
		t.Error("original output must not inject status")
	}

	display := link.Graph(false)
	if display.Properties["status"] != "down" {
		t.Errorf("expected status down, got %v", display.Properties["status"])
	}
	for _, key := range []string{"created", "modified", "status_changed"} {
		if _, ok := display.Properties[key]; !ok {
			t.Errorf("expected %s to be injected", key)
		}
	}
}
