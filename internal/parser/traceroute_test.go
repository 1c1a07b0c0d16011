package parser

import (
	"context"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
)

const sampleNmapXML = `<?xml version="1.0"?>
<nmaprun scanner="nmap" args="nmap -sn --traceroute 10.0.2.9" start="1700000000" version="7.94">
<host>
<status state="up" reason="echo-reply"/>
<address addr="10.0.2.9" addrtype="ipv4"/>
<trace port="80" proto="tcp">
<hop ttl="1" ipaddr="10.0.0.1" rtt="0.50" host="gw.lan"/>
<hop ttl="2" ipaddr="10.0.1.1" rtt="1.75"/>
<hop ttl="3" ipaddr="10.0.2.9" rtt="2.00"/>
</trace>
</host>
</nmaprun>`

func TestParseTracerouteURL(t *testing.T) {
	targets, origin, err := parseTracerouteURL("traceroute://10.0.0.9,10.0.0.10?origin=core")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.9", "10.0.0.10"}, targets)
	assert.Equal(t, "core", origin)

	targets, origin, err = parseTracerouteURL("")
	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Equal(t, defaultOrigin, origin)

	_, _, err = parseTracerouteURL("http://10.0.0.9")
	assert.Error(t, err)
}

func TestGraphFromRun(t *testing.T) {
	run := &nmap.Run{
		Hosts: []nmap.Host{
			{Trace: nmap.Trace{Hops: []nmap.Hop{
				{TTL: 1, IPAddr: "10.0.0.1", RTT: "1.0"},
				{TTL: 2, IPAddr: ""},
				{TTL: 3, IPAddr: "10.0.2.1", RTT: "3.0"},
			}}},
			{Trace: nmap.Trace{Hops: []nmap.Hop{
				{TTL: 1, IPAddr: "10.0.0.1", RTT: "1.1"},
				{TTL: 2, IPAddr: "10.0.3.1", RTT: "2.0"},
			}}},
		},
	}

	g := graphFromRun(run, "origin")

	assert.Equal(t, "traceroute", g.Protocol)
	assert.Equal(t, "origin", g.RouterID)

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"origin", "10.0.0.1", "10.0.2.1", "10.0.3.1"}, ids)

	keys := make([]string, 0, len(g.Links))
	for _, l := range g.Links {
		keys = append(keys, l.Key())
	}
	assert.Equal(t, []string{
		domain.LinkKey("origin", "10.0.0.1"),
		domain.LinkKey("10.0.0.1", "10.0.2.1"),
		domain.LinkKey("10.0.0.1", "10.0.3.1"),
	}, keys)
	assert.Equal(t, 2.0, g.Links[1].Properties["rtt_delta"])
}

func TestTracerouteParsePushedReport(t *testing.T) {
	p := NewTracerouteParser(nil)

	g, err := p.Parse(context.Background(), []byte(sampleNmapXML), "", time.Second)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 4)
	assert.Equal(t, "gw.lan", g.Nodes[1].Label)
	assert.Len(t, g.Links, 3)
	require.NoError(t, g.Validate())
}

func TestTracerouteParseInvalidReport(t *testing.T) {
	p := NewTracerouteParser(nil)

	_, err := p.Parse(context.Background(), []byte("<nmaprun"), "", time.Second)
	require.Error(t, err)
	assert.True(t, domain.IsParse(err))
}
