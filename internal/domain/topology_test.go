package domain

import "testing"

func TestTopologyValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Topology)
		wantErr bool
	}{
		{"fetch with url", func(t *Topology) { t.URL = "http://x" }, false},
		{"fetch without url", func(t *Topology) {}, true},
		{"receive with key", func(t *Topology) { t.Strategy = StrategyReceive; t.Key = "k" }, false},
		{"receive without key", func(t *Topology) { t.Strategy = StrategyReceive }, true},
		{"unknown strategy", func(t *Topology) { t.Strategy = "poll"; t.URL = "http://x" }, true},
		{"missing parser", func(t *Topology) { t.Parser = ""; t.URL = "http://x" }, true},
		{"negative expiration", func(t *Topology) { t.URL = "http://x"; t.ExpirationTime = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := NewTopology("test", "netjson", StrategyFetch)
			tt.mutate(topo)
			err := topo.Validate()
			if tt.wantErr && !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestTopologyCheckKey(t *testing.T) {
	topo := NewTopology("test", "netjson", StrategyReceive)
	topo.Key = "secret"

	if err := topo.CheckKey("secret"); err != nil {
		t.Errorf("expected key to match, got %v", err)
	}
	if err := topo.CheckKey("wrong"); !IsAuthorization(err) {
		t.Errorf("expected authorization error, got %v", err)
	}
}

func TestTopologyMetadata(t *testing.T) {
	topo := NewTopology("test", "netjson", StrategyFetch)
	g := NewGraph("OLSR", "0.8", "ETX")

	if !topo.MetadataDiffers(g) {
		t.Error("expected metadata to differ on a fresh topology")
	}
	topo.ApplyMetadata(g)
	if topo.MetadataDiffers(g) {
		t.Error("expected metadata to match after apply")
	}
}
