package mesh

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"linkgraph/internal/domain"
)

// Graph metadata of every mesh topology
const (
	Protocol = "Mesh"
	Version  = "1"
	Metric   = "Airtime"
)

// PlinkEstablished is the peer link state of a usable mesh link
const PlinkEstablished = "ESTAB"

// Inconsistent prefixes a merged value whose reports disagree
const Inconsistent = "INCONSISTENT"

// NodeProperties are the peer fields copied onto mesh nodes
var NodeProperties = []string{
	"auth", "authorized", "authenticated",
	"ht", "vht", "he",
	"wmm", "wds", "wps", "mfp",
	"vendor",
}

// LinkProperties are the peer fields copied onto mesh links
var LinkProperties = []string{
	"signal", "signal_avg", "noise",
	"rx_rate", "tx_rate", "expected_throughput",
	"mesh_llid", "mesh_plid", "mesh_plink", "mesh_non_peer_ps",
}

// averaged link fields are merged with a floored mean
var averaged = map[string]bool{
	"signal":              true,
	"signal_avg":          true,
	"noise":               true,
	"rx_rate":             true,
	"tx_rate":             true,
	"expected_throughput": true,
}

// exact link fields must agree between reports
var exact = map[string]bool{
	"mesh_plink":       true,
	"mesh_non_peer_ps": true,
}

// Key returns the mesh group key of a wireless network
func Key(ssid string, channel int) string {
	return fmt.Sprintf("%s@%d", ssid, channel)
}

// Label returns the display label of a mesh group
func Label(ssid string, channel int) string {
	return fmt.Sprintf("%s (channel %d)", ssid, channel)
}

// Group is the reconstructed state of one mesh network before it is
// turned into a graph. MACs are interface addresses until resolved.
type Group struct {
	Key     string
	SSID    string
	Channel int

	// nodes maps interface MAC to whitelisted properties
	nodes map[string]map[string]any
	// links maps peer MAC to reporting interface MAC to link properties
	links map[string]map[string]map[string]any
}

func newGroup(ssid string, channel int) *Group {
	return &Group{
		Key:     Key(ssid, channel),
		SSID:    ssid,
		Channel: channel,
		nodes:   make(map[string]map[string]any),
		links:   make(map[string]map[string]map[string]any),
	}
}

func (g *Group) addNode(mac string, props map[string]any) {
	existing, ok := g.nodes[mac]
	if !ok {
		g.nodes[mac] = props
		return
	}
	for k, v := range props {
		if _, set := existing[k]; !set {
			existing[k] = v
		}
	}
}

func (g *Group) addLink(reporter, peer string, props map[string]any) {
	byReporter, ok := g.links[peer]
	if !ok {
		byReporter = make(map[string]map[string]any)
		g.links[peer] = byReporter
	}
	byReporter[reporter] = props
}

// Builder reconstructs mesh groups from device samples of one
// organization
type Builder struct {
	mode   string
	cutoff time.Time

	groups map[string]*Group
	// macs maps interface and device MACs to the canonical device MAC
	macs map[string]string
	// names maps device MACs to device names
	names map[string]string
}

// NewBuilder creates a builder for interfaces in the given wireless mode.
// Samples older than cutoff only contribute to MAC resolution.
func NewBuilder(mode string, cutoff time.Time) *Builder {
	return &Builder{
		mode:   mode,
		cutoff: cutoff,
		groups: make(map[string]*Group),
		macs:   make(map[string]string),
		names:  make(map[string]string),
	}
}

// Add records a device sample
func (b *Builder) Add(s *domain.DeviceSample) {
	device := domain.NormalizeMAC(s.MACAddress)
	if device == "" {
		return
	}
	b.macs[device] = device
	if s.Name != "" {
		b.names[device] = s.Name
	}
	for _, iface := range s.Interfaces {
		if mac := domain.NormalizeMAC(iface.MAC); mac != "" {
			b.macs[mac] = device
		}
	}

	if s.Timestamp.Before(b.cutoff) {
		return
	}

	for _, iface := range s.Interfaces {
		w := iface.Wireless
		if w == nil || w.Mode != b.mode {
			continue
		}
		reporter := domain.NormalizeMAC(iface.MAC)
		if reporter == "" {
			continue
		}

		g, ok := b.groups[Key(w.SSID, w.Channel)]
		if !ok {
			g = newGroup(w.SSID, w.Channel)
			b.groups[g.Key] = g
		}
		// The reporter is a node even when it sees no peers
		g.addNode(reporter, map[string]any{})

		for _, client := range w.Clients {
			peer, _ := client["mac"].(string)
			peer = domain.NormalizeMAC(peer)
			if peer == "" || peer == reporter {
				continue
			}
			g.addNode(peer, whitelist(client, NodeProperties))
			g.addLink(reporter, peer, whitelist(client, LinkProperties))
		}
	}
}

// Groups returns the reconstructed groups ordered by key
func (b *Builder) Groups() []*Group {
	groups := make([]*Group, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}

// Resolve returns the device MAC owning an interface MAC
func (b *Builder) Resolve(mac string) (string, bool) {
	device, ok := b.macs[domain.NormalizeMAC(mac)]
	return device, ok
}

// Graph turns a group into a canonical graph. Interface MACs are resolved
// to device MACs; candidates that cannot be resolved are dropped and
// reports of the same device pair are merged. A pair becomes a link only
// when at least one of its reports is established.
func (b *Builder) Graph(g *Group) *domain.Graph {
	out := domain.NewGraph(Protocol, Version, Metric)
	out.Label = Label(g.SSID, g.Channel)

	type nodeState struct {
		props  map[string]any
		ifaces map[string]struct{}
	}
	nodes := make(map[string]*nodeState)

	for _, mac := range sortedKeys(g.nodes) {
		device, ok := b.macs[mac]
		if !ok {
			continue
		}
		st, ok := nodes[device]
		if !ok {
			st = &nodeState{props: make(map[string]any), ifaces: make(map[string]struct{})}
			nodes[device] = st
		}
		for k, v := range g.nodes[mac] {
			if _, set := st.props[k]; !set {
				st.props[k] = v
			}
		}
		if mac != device {
			st.ifaces[mac] = struct{}{}
		}
	}

	for _, device := range sortedKeys(nodes) {
		st := nodes[device]
		gn := domain.GraphNode{
			ID:         device,
			Label:      b.names[device],
			Properties: st.props,
		}
		if len(st.ifaces) > 0 {
			gn.LocalAddresses = sortedKeys(st.ifaces)
		}
		if len(gn.Properties) == 0 {
			gn.Properties = nil
		}
		out.AddNode(gn)
	}

	type pair struct {
		source, target string
		reports        []map[string]any
	}
	pairs := make(map[string]*pair)

	for _, peer := range sortedKeys(g.links) {
		target, ok := b.macs[peer]
		if !ok {
			continue
		}
		byReporter := g.links[peer]
		for _, reporter := range sortedKeys(byReporter) {
			source, ok := b.macs[reporter]
			if !ok || source == target {
				continue
			}
			key := domain.LinkKey(source, target)
			p, ok := pairs[key]
			if !ok {
				p = &pair{source: source, target: target}
				pairs[key] = p
			}
			p.reports = append(p.reports, byReporter[reporter])
		}
	}

	for _, key := range sortedKeys(pairs) {
		p := pairs[key]
		if _, ok := nodes[p.source]; !ok {
			continue
		}
		if _, ok := nodes[p.target]; !ok {
			continue
		}
		if !anyEstablished(p.reports) {
			continue
		}
		props := MergeLinkProperties(p.reports...)
		if len(props) == 0 {
			props = nil
		}
		out.AddLink(domain.GraphLink{
			Source:     p.source,
			Target:     p.target,
			Cost:       1.0,
			Properties: props,
		})
	}

	return out
}

// established reports whether a peer report describes a usable link.
// Reports without a peer link state count as established.
func established(report map[string]any) bool {
	plink, ok := report["mesh_plink"]
	return !ok || fmt.Sprint(plink) == PlinkEstablished
}

func anyEstablished(reports []map[string]any) bool {
	for _, r := range reports {
		if established(r) {
			return true
		}
	}
	return false
}

// MergeLinkProperties combines several reports of the same link. Averaged
// fields get the floored mean of their numeric values. Exact fields that
// disagree become "INCONSISTENT: (a / b)". Any other field keeps the first
// reported value.
func MergeLinkProperties(reports ...map[string]any) map[string]any {
	merged := make(map[string]any)
	if len(reports) == 0 {
		return merged
	}

	var keys []string
	seen := make(map[string]struct{})
	for _, r := range reports {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		var values []any
		for _, r := range reports {
			if v, ok := r[k]; ok {
				values = append(values, v)
			}
		}
		switch {
		case averaged[k]:
			if mean, ok := flooredMean(values); ok {
				merged[k] = mean
			} else {
				merged[k] = agree(values)
			}
		case exact[k]:
			merged[k] = agree(values)
		default:
			merged[k] = values[0]
		}
	}
	return merged
}

// agree returns the common value or an INCONSISTENT marker listing the
// distinct values in report order
func agree(values []any) any {
	var distinct []string
	seen := make(map[string]struct{})
	for _, v := range values {
		s := fmt.Sprint(v)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		distinct = append(distinct, s)
	}
	if len(distinct) == 1 {
		return values[0]
	}
	return fmt.Sprintf("%s: (%s)", Inconsistent, strings.Join(distinct, " / "))
}

func flooredMean(values []any) (int, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0
	for _, v := range values {
		n, ok := toInt(v)
		if !ok {
			return 0, false
		}
		sum += n
	}
	return floorDiv(sum, len(values)), true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Floor(n)), true
	case float32:
		return int(math.Floor(float64(n))), true
	default:
		return 0, false
	}
}

func whitelist(src map[string]any, keys []string) map[string]any {
	out := make(map[string]any)
	for _, k := range keys {
		if v, ok := src[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
