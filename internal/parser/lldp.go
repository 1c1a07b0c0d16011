package parser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
)

const (
	lldpProtocol = "LLDP"
	lldpVersion  = "IEEE 802.1AB"
	lldpMetric   = "none"

	oidSysName           = ".1.3.6.1.2.1.1.5.0"
	oidLLDPLocChassisID  = ".1.0.8802.1.1.2.1.3.2.0"
	oidLLDPRemChassisID  = ".1.0.8802.1.1.2.1.4.1.1.5"
	oidLLDPRemPortID     = ".1.0.8802.1.1.2.1.4.1.1.7"
	oidLLDPRemPortDesc   = ".1.0.8802.1.1.2.1.4.1.1.8"
	oidLLDPRemSysName    = ".1.0.8802.1.1.2.1.4.1.1.9"
	oidLLDPLocPortDesc   = ".1.0.8802.1.1.2.1.3.7.1.4"
	defaultSNMPPort      = 161
	defaultSNMPCommunity = "public"
)

// LLDPParser walks the LLDP remote tables of a device over SNMP and emits
// one link per neighbor.
//
// The source url has the form snmp://community@host[:port].
type LLDPParser struct {
	retries int
	logger  *zap.Logger
}

// NewLLDPParser creates an LLDP parser
func NewLLDPParser(retries int, logger *zap.Logger) *LLDPParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLDPParser{retries: retries, logger: logger.Named("lldp")}
}

// lldpLocal identifies the polled device
type lldpLocal struct {
	Address   string
	Name      string
	ChassisID string
}

// lldpNeighbor is one row of lldpRemTable
type lldpNeighbor struct {
	LocalPort  int
	LocalDesc  string
	ChassisID  string
	PortID     string
	PortDesc   string
	SystemName string
}

// Parse implements Parser. Pushed payloads are not supported.
func (p *LLDPParser) Parse(ctx context.Context, raw []byte, rawURL string, timeout time.Duration) (*domain.Graph, error) {
	if raw != nil {
		return nil, domain.NewParseError(FormatLLDP, errors.New("lldp sources are polled, pushed payloads are not accepted"))
	}

	sn, err := p.session(ctx, rawURL, timeout)
	if err != nil {
		return nil, domain.NewParseError(FormatLLDP, err)
	}
	if err := sn.Connect(); err != nil {
		return nil, domain.NewParseError(FormatLLDP, fmt.Errorf("connect %s: %w", sn.Target, err))
	}
	defer sn.Conn.Close()

	local := lldpLocal{
		Address:   sn.Target,
		Name:      getString(sn, oidSysName),
		ChassisID: formatChassisID(getRaw(sn, oidLLDPLocChassisID)),
	}

	neighbors, err := walkNeighbors(sn)
	if err != nil {
		return nil, domain.NewParseError(FormatLLDP, err)
	}
	p.logger.Debug("lldp walk complete",
		zap.String("target", sn.Target),
		zap.Int("neighbors", len(neighbors)))

	return graphFromNeighbors(local, neighbors), nil
}

func (p *LLDPParser) session(ctx context.Context, rawURL string, timeout time.Duration) (*gosnmp.GoSNMP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "snmp" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("snmp url requires a host")
	}

	port := defaultSNMPPort
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", u.Port())
		}
	}
	community := defaultSNMPCommunity
	if u.User != nil && u.User.Username() != "" {
		community = u.User.Username()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &gosnmp.GoSNMP{
		Target:             u.Hostname(),
		Port:               uint16(port),
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            timeout,
		Retries:            p.retries,
		Context:            ctx,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     20,
		ExponentialTimeout: true,
	}, nil
}

func walkNeighbors(sn *gosnmp.GoSNMP) ([]lldpNeighbor, error) {
	type key struct{ port, index int }
	rows := make(map[key]*lldpNeighbor)
	var order []key

	walk := func(oid string, set func(n *lldpNeighbor, v interface{})) error {
		return sn.BulkWalk(oid, func(pdu gosnmp.SnmpPDU) error {
			port, index, ok := parseRemIndex(oid, pdu.Name)
			if !ok {
				return nil
			}
			k := key{port, index}
			n, exists := rows[k]
			if !exists {
				n = &lldpNeighbor{LocalPort: port}
				rows[k] = n
				order = append(order, k)
			}
			set(n, pdu.Value)
			return nil
		})
	}

	if err := walk(oidLLDPRemChassisID, func(n *lldpNeighbor, v interface{}) {
		n.ChassisID = formatChassisID(v)
	}); err != nil {
		return nil, fmt.Errorf("walk lldpRemChassisId: %w", err)
	}
	if err := walk(oidLLDPRemPortID, func(n *lldpNeighbor, v interface{}) {
		n.PortID = valueToString(v)
	}); err != nil {
		return nil, fmt.Errorf("walk lldpRemPortId: %w", err)
	}
	if err := walk(oidLLDPRemPortDesc, func(n *lldpNeighbor, v interface{}) {
		n.PortDesc = valueToString(v)
	}); err != nil {
		return nil, fmt.Errorf("walk lldpRemPortDesc: %w", err)
	}
	if err := walk(oidLLDPRemSysName, func(n *lldpNeighbor, v interface{}) {
		n.SystemName = valueToString(v)
	}); err != nil {
		return nil, fmt.Errorf("walk lldpRemSysName: %w", err)
	}

	// Local port descriptions are indexed by port number only
	portDesc := make(map[int]string)
	_ = sn.BulkWalk(oidLLDPLocPortDesc, func(pdu gosnmp.SnmpPDU) error {
		if port, err := strconv.Atoi(lastArc(pdu.Name)); err == nil {
			portDesc[port] = valueToString(pdu.Value)
		}
		return nil
	})

	neighbors := make([]lldpNeighbor, 0, len(order))
	for _, k := range order {
		n := rows[k]
		n.LocalDesc = portDesc[n.LocalPort]
		neighbors = append(neighbors, *n)
	}
	return neighbors, nil
}

// graphFromNeighbors links the local device to every neighbor. Neighbors
// are identified by chassis id, falling back to system name.
func graphFromNeighbors(local lldpLocal, neighbors []lldpNeighbor) *domain.Graph {
	g := domain.NewGraph(lldpProtocol, lldpVersion, lldpMetric)

	localID := local.ChassisID
	if localID == "" {
		localID = local.Address
	}
	g.RouterID = localID

	node := domain.GraphNode{ID: localID, Label: local.Name}
	if local.Address != "" && local.Address != localID {
		node.LocalAddresses = []string{local.Address}
	}
	g.AddNode(node)

	seenNodes := map[string]struct{}{localID: {}}
	seenLinks := make(map[string]struct{})
	for _, n := range neighbors {
		id := n.ChassisID
		if id == "" {
			id = n.SystemName
		}
		if id == "" || id == localID {
			continue
		}
		if _, ok := seenNodes[id]; !ok {
			seenNodes[id] = struct{}{}
			g.AddNode(domain.GraphNode{ID: id, Label: n.SystemName})
		}

		key := domain.LinkKey(localID, id)
		if _, ok := seenLinks[key]; ok {
			continue
		}
		seenLinks[key] = struct{}{}

		props := map[string]any{"local_port": n.LocalPort}
		if n.LocalDesc != "" {
			props["local_port_desc"] = n.LocalDesc
		}
		if n.PortID != "" {
			props["remote_port"] = n.PortID
		}
		if n.PortDesc != "" {
			props["remote_port_desc"] = n.PortDesc
		}
		g.AddLink(domain.GraphLink{
			Source:     localID,
			Target:     id,
			Cost:       1,
			Properties: props,
		})
	}
	return g
}

// parseRemIndex extracts localPortNum and remIndex from a lldpRemTable
// instance oid: <column>.<timeMark>.<localPortNum>.<remIndex>
func parseRemIndex(column, name string) (port, index int, ok bool) {
	suffix := strings.TrimPrefix(strings.TrimPrefix(name, "."), strings.TrimPrefix(column, "."))
	parts := strings.Split(strings.TrimPrefix(suffix, "."), ".")
	if len(parts) != 3 {
		return 0, 0, false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return port, index, true
}

// formatChassisID renders 6-byte chassis ids as MAC addresses
func formatChassisID(v interface{}) string {
	b, ok := v.([]byte)
	if !ok {
		return valueToString(v)
	}
	if len(b) == 6 {
		return net.HardwareAddr(b).String()
	}
	return strings.TrimSpace(string(b))
}

func getRaw(sn *gosnmp.GoSNMP, oid string) interface{} {
	p, err := sn.Get([]string{oid})
	if err != nil || len(p.Variables) == 0 {
		return nil
	}
	return p.Variables[0].Value
}

func getString(sn *gosnmp.GoSNMP, oid string) string {
	return valueToString(getRaw(sn, oid))
}

func valueToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return strings.TrimSpace(string(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

func lastArc(oid string) string {
	if i := strings.LastIndex(oid, "."); i >= 0 {
		return oid[i+1:]
	}
	return oid
}
