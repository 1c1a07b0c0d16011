// Package parser turns raw snapshots into canonical graphs.
//
// Each format is a Parser registered under a format id in a Registry that is
// built once at startup. Byte formats (netjson, yaml) accept pushed payloads
// or fetch their source url through a Fetcher. Probe formats (traceroute,
// lldp) collect the graph themselves from the network.
package parser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"linkgraph/internal/domain"
)

// Format ids
const (
	FormatNetJSON    = "netjson"
	FormatYAML       = "yaml"
	FormatTraceroute = "traceroute"
	FormatLLDP       = "lldp"
)

// Parser converts raw data into a canonical graph. When raw is nil the
// parser obtains the data from url, bounded by timeout. Failures are
// *domain.ParseError.
type Parser interface {
	Parse(ctx context.Context, raw []byte, url string, timeout time.Duration) (*domain.Graph, error)
}

// ParserFunc adapts a function to the Parser interface
type ParserFunc func(ctx context.Context, raw []byte, url string, timeout time.Duration) (*domain.Graph, error)

// Parse implements Parser
func (f ParserFunc) Parse(ctx context.Context, raw []byte, url string, timeout time.Duration) (*domain.Graph, error) {
	return f(ctx, raw, url, timeout)
}

// Config holds parser and fetcher settings
type Config struct {
	// SSHKeyPath is the private key used by ssh:// sources without a password
	SSHKeyPath string
	// SNMPRetries is the retry count of lldp walks
	SNMPRetries int
}

// Registry maps format ids to parsers
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// NewDefaultRegistry registers every built-in format
func NewDefaultRegistry(cfg Config, logger *zap.Logger) *Registry {
	fetcher := NewFetcher(cfg.SSHKeyPath, logger)

	r := NewRegistry()
	r.Register(FormatNetJSON, NewNetJSONParser(fetcher))
	r.Register(FormatYAML, NewYAMLParser(fetcher))
	r.Register(FormatTraceroute, NewTracerouteParser(logger))
	r.Register(FormatLLDP, NewLLDPParser(cfg.SNMPRetries, logger))
	return r
}

// Register adds or replaces the parser of a format
func (r *Registry) Register(format string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[format] = p
}

// Get returns the parser of a format
func (r *Registry) Get(format string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[format]
	if !ok {
		return nil, domain.NewParseError(format, fmt.Errorf("unknown format %q", format))
	}
	return p, nil
}

// Formats lists registered format ids in sorted order
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Parse resolves the format and runs its parser
func (r *Registry) Parse(ctx context.Context, format string, raw []byte, url string, timeout time.Duration) (*domain.Graph, error) {
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, raw, url, timeout)
}
