package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"linkgraph/internal/domain"
)

// NetJSONParser reads NetJSON NetworkGraph documents
type NetJSONParser struct {
	fetcher *Fetcher
}

// NewNetJSONParser creates a NetJSON parser that fetches through fetcher
func NewNetJSONParser(fetcher *Fetcher) *NetJSONParser {
	return &NetJSONParser{fetcher: fetcher}
}

// Parse implements Parser
func (p *NetJSONParser) Parse(ctx context.Context, raw []byte, url string, timeout time.Duration) (*domain.Graph, error) {
	raw, err := load(ctx, p.fetcher, raw, url, timeout)
	if err != nil {
		return nil, domain.NewParseError(FormatNetJSON, err)
	}

	var g domain.Graph
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&g); err != nil {
		return nil, domain.NewParseError(FormatNetJSON, fmt.Errorf("decode: %w", err))
	}
	if err := g.Validate(); err != nil {
		return nil, domain.NewParseError(FormatNetJSON, err)
	}
	return &g, nil
}

// YAMLParser reads NetworkGraph documents written as YAML
type YAMLParser struct {
	fetcher *Fetcher
}

// NewYAMLParser creates a YAML parser that fetches through fetcher
func NewYAMLParser(fetcher *Fetcher) *YAMLParser {
	return &YAMLParser{fetcher: fetcher}
}

// Parse implements Parser
func (p *YAMLParser) Parse(ctx context.Context, raw []byte, url string, timeout time.Duration) (*domain.Graph, error) {
	raw, err := load(ctx, p.fetcher, raw, url, timeout)
	if err != nil {
		return nil, domain.NewParseError(FormatYAML, err)
	}

	var g domain.Graph
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, domain.NewParseError(FormatYAML, fmt.Errorf("decode: %w", err))
	}
	if g.Type == "" {
		g.Type = domain.GraphType
	}
	if err := g.Validate(); err != nil {
		return nil, domain.NewParseError(FormatYAML, err)
	}
	return &g, nil
}

// load returns raw when given, otherwise fetches url
func load(ctx context.Context, fetcher *Fetcher, raw []byte, url string, timeout time.Duration) ([]byte, error) {
	if raw != nil {
		return raw, nil
	}
	if fetcher == nil {
		return nil, fmt.Errorf("no payload and no fetcher for %q", url)
	}
	return fetcher.Fetch(ctx, url, timeout)
}
