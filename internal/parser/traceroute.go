package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
)

const (
	tracerouteProtocol = "traceroute"
	tracerouteVersion  = "nmap"
	tracerouteMetric   = "hop"

	// defaultOrigin names the scanning host when the url gives no origin
	defaultOrigin = "scanner"
)

// TracerouteParser builds a graph from nmap traceroute results.
//
// The source url has the form traceroute://host[,host...][?origin=id].
// Pushed payloads are nmap XML reports (nmap -oX) produced with --traceroute.
type TracerouteParser struct {
	logger *zap.Logger
}

// NewTracerouteParser creates a traceroute parser
func NewTracerouteParser(logger *zap.Logger) *TracerouteParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracerouteParser{logger: logger.Named("traceroute")}
}

// Parse implements Parser
func (p *TracerouteParser) Parse(ctx context.Context, raw []byte, rawURL string, timeout time.Duration) (*domain.Graph, error) {
	targets, origin, err := parseTracerouteURL(rawURL)
	if err != nil {
		return nil, domain.NewParseError(FormatTraceroute, err)
	}

	var run *nmap.Run
	if raw != nil {
		run = &nmap.Run{}
		if err := xml.Unmarshal(raw, run); err != nil {
			return nil, domain.NewParseError(FormatTraceroute, fmt.Errorf("decode nmap report: %w", err))
		}
	} else {
		if len(targets) == 0 {
			return nil, domain.NewParseError(FormatTraceroute, errors.New("no targets"))
		}
		run, err = p.scan(ctx, targets, timeout)
		if err != nil {
			return nil, domain.NewParseError(FormatTraceroute, err)
		}
	}

	return graphFromRun(run, origin), nil
}

func (p *TracerouteParser) scan(ctx context.Context, targets []string, timeout time.Duration) (*nmap.Run, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(targets...),
		nmap.WithTraceRoute(),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	p.logger.Debug("running traceroute", zap.Strings("targets", targets))
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Warn("nmap warnings", zap.Strings("warnings", *warnings))
	}
	return result, nil
}

// parseTracerouteURL extracts targets and the origin id from the source url.
// An empty url is allowed for pushed reports.
func parseTracerouteURL(rawURL string) ([]string, string, error) {
	if rawURL == "" {
		return nil, defaultOrigin, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "traceroute" {
		return nil, "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	var targets []string
	for _, t := range strings.Split(u.Host+u.Path, ",") {
		t = strings.Trim(strings.TrimSpace(t), "/")
		if t != "" {
			targets = append(targets, t)
		}
	}

	origin := u.Query().Get("origin")
	if origin == "" {
		origin = defaultOrigin
	}
	return targets, origin, nil
}

// graphFromRun chains origin -> hop 1 -> ... -> hop n for every traced host.
// Hops that did not answer break the chain; the next responding hop links to
// the last known one.
func graphFromRun(run *nmap.Run, origin string) *domain.Graph {
	g := domain.NewGraph(tracerouteProtocol, tracerouteVersion, tracerouteMetric)
	g.RouterID = origin

	seenNodes := make(map[string]struct{})
	seenLinks := make(map[string]struct{})
	addNode := func(id, label string) {
		if _, ok := seenNodes[id]; ok {
			return
		}
		seenNodes[id] = struct{}{}
		g.AddNode(domain.GraphNode{ID: id, Label: label})
	}

	addNode(origin, "")

	if run == nil {
		return g
	}

	for _, host := range run.Hosts {
		prev := origin
		var prevRTT float64
		for _, hop := range host.Trace.Hops {
			if hop.IPAddr == "" {
				continue
			}
			addNode(hop.IPAddr, hop.Host)

			rtt, _ := strconv.ParseFloat(hop.RTT, 64)
			if hop.IPAddr != prev {
				key := domain.LinkKey(prev, hop.IPAddr)
				if _, ok := seenLinks[key]; !ok {
					seenLinks[key] = struct{}{}
					props := map[string]any{"ttl": int(hop.TTL)}
					if hop.RTT != "" {
						props["rtt"] = rtt
						props["rtt_delta"] = rtt - prevRTT
					}
					g.AddLink(domain.GraphLink{
						Source:     prev,
						Target:     hop.IPAddr,
						Cost:       1,
						Properties: props,
					})
				}
			}
			prev = hop.IPAddr
			prevRTT = rtt
		}
	}
	return g
}
