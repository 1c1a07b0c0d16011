package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"linkgraph/internal/domain"
	"linkgraph/internal/repository"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Manage topologies",
}

var topologyAdd struct {
	parser       string
	strategy     string
	url          string
	key          string
	expiration   int
	organization string
	unpublished  bool
}

var topologyAddCmd = &cobra.Command{
	Use:   "add <label>",
	Short: "Register a topology",
	Long: `Register a topology. Fetch topologies need --url; receive topologies
get a random key unless --key is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		t := domain.NewTopology(args[0], topologyAdd.parser, domain.Strategy(topologyAdd.strategy))
		t.URL = topologyAdd.url
		t.Key = topologyAdd.key
		t.ExpirationTime = topologyAdd.expiration
		t.OrganizationID = topologyAdd.organization
		t.Published = !topologyAdd.unpublished
		if t.Strategy == domain.StrategyReceive && t.Key == "" {
			t.Key = uuid.NewString()
		}

		if err := a.topologies.CreateTopology(cmd.Context(), t); err != nil {
			return fmt.Errorf("failed to add topology: %w", err)
		}
		return printResult(cmd.OutOrStdout(), t)
	},
}

var topologyList struct {
	strategy     string
	organization string
}

var topologyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topologies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		topologies, err := a.topologies.ListTopologies(cmd.Context(), repository.TopologyFilter{
			Strategy:       domain.Strategy(topologyList.strategy),
			OrganizationID: topologyList.organization,
		})
		if err != nil {
			return fmt.Errorf("failed to list topologies: %w", err)
		}
		return printResult(cmd.OutOrStdout(), topologies)
	},
}

var topologyShowGraph bool

var topologyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a topology, or its graph with --graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if topologyShowGraph {
			g, err := a.topologies.Graph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), g)
		}
		t, err := a.topologies.GetTopology(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), t)
	},
}

var topologySetPropsCmd = &cobra.Command{
	Use:   "set-props <id> <address> [key=value ...]",
	Short: "Replace the operator properties of a node",
	Long: `Replace the operator properties of the node with the given canonical
address. Values are read as YAML scalars, so 42 is a number and true a
boolean. Without key=value pairs the properties are cleared.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := parseProps(args[2:])
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		node, err := a.topologies.SetNodeProperties(cmd.Context(), args[0], args[1], props)
		if err != nil {
			return fmt.Errorf("failed to set node properties: %w", err)
		}
		return printResult(cmd.OutOrStdout(), node)
	},
}

// parseProps turns key=value pairs into a property map
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		props[key] = value
	}
	return props, nil
}

func init() {
	f := topologyAddCmd.Flags()
	f.StringVar(&topologyAdd.parser, "parser", "netjson", "snapshot format: netjson, yaml, traceroute, lldp")
	f.StringVar(&topologyAdd.strategy, "strategy", string(domain.StrategyFetch), "fetch or receive")
	f.StringVar(&topologyAdd.url, "url", "", "source url of fetch topologies")
	f.StringVar(&topologyAdd.key, "key", "", "shared key of receive topologies")
	f.IntVar(&topologyAdd.expiration, "expiration", 0, "receive grace period in seconds")
	f.StringVar(&topologyAdd.organization, "organization", "", "owning organization")
	f.BoolVar(&topologyAdd.unpublished, "unpublished", false, "hide the graph from the API")

	topologyListCmd.Flags().StringVar(&topologyList.strategy, "strategy", "", "filter by strategy")
	topologyListCmd.Flags().StringVar(&topologyList.organization, "organization", "", "filter by organization")

	topologyShowCmd.Flags().BoolVar(&topologyShowGraph, "graph", false, "print the NetworkGraph")

	topologyCmd.AddCommand(topologyAddCmd, topologyListCmd, topologyShowCmd, topologySetPropsCmd)
	rootCmd.AddCommand(topologyCmd)
}
