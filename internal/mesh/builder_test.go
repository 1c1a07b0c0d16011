package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
)

var now = time.Date(2026, 6, 10, 9, 30, 0, 0, time.UTC)

const (
	devA   = "00:00:00:00:aa:01"
	devB   = "00:00:00:00:bb:01"
	devC   = "00:00:00:00:cc:01"
	radioA = "02:00:00:00:aa:02"
	radioB = "02:00:00:00:bb:02"
	radioC = "02:00:00:00:cc:02"
)

func peer(mac string, fields map[string]any) map[string]any {
	out := map[string]any{"mac": mac}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sample(device, radio string, ts time.Time, clients ...map[string]any) domain.DeviceSample {
	return domain.DeviceSample{
		DeviceID:       device,
		OrganizationID: "org-1",
		MACAddress:     device,
		Name:           "node-" + device[len(device)-5:len(device)-3],
		Timestamp:      ts,
		Interfaces: []domain.DeviceInterface{
			{Name: "eth0", MAC: device, Type: "ethernet"},
			{
				Name: "mesh0",
				MAC:  radio,
				Type: "wireless",
				Wireless: &domain.WirelessInfo{
					Mode:    DefaultMode,
					SSID:    "backhaul",
					Channel: 36,
					Clients: clients,
				},
			},
		},
	}
}

func build(samples ...domain.DeviceSample) (*Builder, []*Group) {
	b := NewBuilder(DefaultMode, now.Add(-DefaultCutoff))
	for i := range samples {
		b.Add(&samples[i])
	}
	return b, b.Groups()
}

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{-110, 2, -55},
		{-111, 2, -56},
		{111, 2, 55},
		{-3, 3, -1},
		{0, 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, floorDiv(tt.a, tt.b), "%d / %d", tt.a, tt.b)
	}
}

func TestMergeLinkProperties(t *testing.T) {
	merged := MergeLinkProperties(
		map[string]any{"signal": -50, "noise": -95.0, "mesh_plink": "ESTAB", "mesh_llid": 100, "mesh_non_peer_ps": "ACTIVE"},
		map[string]any{"signal": -60, "noise": -92.0, "mesh_plink": "ESTAB", "mesh_llid": 200, "mesh_non_peer_ps": "DEEP SLEEP"},
	)

	assert.Equal(t, -55, merged["signal"])
	assert.Equal(t, -94, merged["noise"])
	assert.Equal(t, "ESTAB", merged["mesh_plink"])
	assert.Equal(t, 100, merged["mesh_llid"], "first report wins")
	assert.Equal(t, "INCONSISTENT: (ACTIVE / DEEP SLEEP)", merged["mesh_non_peer_ps"])
}

func TestMergeLinkPropertiesPlinkMismatch(t *testing.T) {
	merged := MergeLinkProperties(
		map[string]any{"mesh_plink": "ESTAB"},
		map[string]any{"mesh_plink": "HOLDING"},
	)
	assert.Equal(t, "INCONSISTENT: (ESTAB / HOLDING)", merged["mesh_plink"])
}

func TestMergeLinkPropertiesSingleReport(t *testing.T) {
	merged := MergeLinkProperties(map[string]any{"signal": -61.0, "tx_rate": "n/a"})
	assert.Equal(t, -61, merged["signal"])
	assert.Equal(t, "n/a", merged["tx_rate"], "non numeric values are kept")
	assert.Empty(t, MergeLinkProperties())
}

func TestBuilderMergesBothViews(t *testing.T) {
	b, groups := build(
		sample(devA, radioA, now, peer(radioB, map[string]any{
			"signal": -50, "noise": -95, "mesh_plink": "ESTAB", "vendor": "Ubiquiti", "inactive": 10,
		})),
		sample(devB, radioB, now, peer(radioA, map[string]any{
			"signal": -60, "noise": -95, "mesh_plink": "ESTAB", "wmm": true,
		})),
	)
	require.Len(t, groups, 1)
	assert.Equal(t, "backhaul@36", groups[0].Key)

	g := b.Graph(groups[0])
	assert.Equal(t, Protocol, g.Protocol)
	assert.Equal(t, Version, g.Version)
	assert.Equal(t, Metric, g.Metric)
	assert.Equal(t, "backhaul (channel 36)", g.Label)
	require.NoError(t, g.Validate())

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, devA, g.Nodes[0].ID)
	assert.Equal(t, []string{radioA}, g.Nodes[0].LocalAddresses)
	assert.Equal(t, "node-aa", g.Nodes[0].Label)
	assert.Equal(t, map[string]any{"wmm": true}, g.Nodes[0].Properties)
	assert.Equal(t, devB, g.Nodes[1].ID)
	assert.Equal(t, map[string]any{"vendor": "Ubiquiti"}, g.Nodes[1].Properties)

	require.Len(t, g.Links, 1)
	l := g.Links[0]
	assert.Equal(t, domain.LinkKey(devA, devB), l.Key())
	assert.Equal(t, 1.0, l.Cost)
	assert.Equal(t, -55, l.Properties["signal"])
	assert.Equal(t, -95, l.Properties["noise"])
	assert.Equal(t, "ESTAB", l.Properties["mesh_plink"])
	assert.NotContains(t, l.Properties, "inactive")
}

func TestBuilderSkipsUnestablishedLinks(t *testing.T) {
	b, groups := build(
		sample(devA, radioA, now, peer(radioB, map[string]any{"mesh_plink": "OPN_SNT", "vendor": "x"})),
		sample(devB, radioB, now),
	)
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	assert.Len(t, g.Nodes, 2, "the peer is still a node")
	assert.Empty(t, g.Links)
}

func TestBuilderMergesMixedPlinkStates(t *testing.T) {
	b, groups := build(
		sample(devA, radioA, now, peer(radioB, map[string]any{"signal": -50, "mesh_plink": "ESTAB"})),
		sample(devB, radioB, now, peer(radioA, map[string]any{"signal": -60, "mesh_plink": "HOLDING"})),
	)
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	require.Len(t, g.Links, 1)
	assert.Equal(t, -55, g.Links[0].Properties["signal"])
	assert.Equal(t, "INCONSISTENT: (ESTAB / HOLDING)", g.Links[0].Properties["mesh_plink"])
}

func TestBuilderSkipsPairWithoutEstablishedReport(t *testing.T) {
	b, groups := build(
		sample(devA, radioA, now, peer(radioB, map[string]any{"signal": -50, "mesh_plink": "HOLDING"})),
		sample(devB, radioB, now, peer(radioA, map[string]any{"signal": -60, "mesh_plink": "OPN_RCVD"})),
	)
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	assert.Len(t, g.Nodes, 2)
	assert.Empty(t, g.Links)
}

func TestBuilderLoneReporter(t *testing.T) {
	b, groups := build(sample(devA, radioA, now))
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, devA, g.Nodes[0].ID)
	assert.Empty(t, g.Links)
}

func TestBuilderResolvesPeersFromStaleSamples(t *testing.T) {
	b, groups := build(
		sample(devA, radioA, now,
			peer(radioB, map[string]any{"signal": -70}),
			peer(radioC, map[string]any{"signal": -80}),
		),
		// B stopped reporting but its radio is still known
		sample(devB, radioB, now.Add(-time.Hour), peer(radioA, map[string]any{"signal": -40})),
	)
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{devA, devB}, ids, "radio C has no device")

	require.Len(t, g.Links, 1)
	assert.Equal(t, domain.LinkKey(devA, devB), g.Links[0].Key())
	assert.Equal(t, -70, g.Links[0].Properties["signal"], "stale reports do not contribute")

	device, ok := b.Resolve("02:00:00:00:BB:02")
	assert.True(t, ok)
	assert.Equal(t, devB, device)
	_, ok = b.Resolve(radioC)
	assert.False(t, ok)
}

func TestBuilderGroupsByChannelAndMode(t *testing.T) {
	a := sample(devA, radioA, now)
	c := sample(devC, radioC, now)
	c.Interfaces[1].Wireless.Channel = 149

	ap := sample(devB, radioB, now, peer(radioA, nil))
	ap.Interfaces[1].Wireless.Mode = "access_point"

	_, groups := build(a, c, ap)
	require.Len(t, groups, 2)
	assert.Equal(t, "backhaul@149", groups[0].Key)
	assert.Equal(t, "backhaul@36", groups[1].Key)
}

func TestBuilderNormalizesMACs(t *testing.T) {
	b, groups := build(
		sample("00:00:00:00:AA:01", "02:00:00:00:AA:02", now, peer("02:00:00:00:BB:02", map[string]any{"signal": -50})),
		sample(devB, radioB, now),
	)
	require.Len(t, groups, 1)

	g := b.Graph(groups[0])
	require.Len(t, g.Links, 1)
	assert.Equal(t, domain.LinkKey(devA, devB), g.Links[0].Key())
}
