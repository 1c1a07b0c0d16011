package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
	"linkgraph/internal/mesh"
)

var updateAll bool

var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Fetch and reconcile a topology, or every fetch topology with --all",
	Args: func(cmd *cobra.Command, args []string) error {
		if updateAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if updateAll {
			res, err := a.topologies.UpdateAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return res.Err()
		}

		res, err := a.topologies.Update(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to update topology: %w", err)
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

var receiveKey string

var receiveCmd = &cobra.Command{
	Use:   "receive <id> <file>",
	Short: "Reconcile a snapshot file into a receive topology",
	Long: `Reconcile a snapshot file ("-" for stdin) with receive semantics.
Without --key the stored key of the topology is used.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readInput(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		key := receiveKey
		if key == "" {
			t, err := a.topologies.GetTopology(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			key = t.Key
		}

		res, err := a.topologies.Receive(cmd.Context(), args[0], key, payload)
		if err != nil {
			return fmt.Errorf("failed to receive topology: %w", err)
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

var meshCutoff time.Duration

var meshCmd = &cobra.Command{
	Use:   "mesh [organization...]",
	Short: "Rebuild mesh topologies from device telemetry",
	Long: `Rebuild mesh topologies of the given organizations, or of the
configured ones when none are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgs := args
		if len(orgs) == 0 {
			orgs = cfg.Mesh.Organizations
		}
		if len(orgs) == 0 {
			return errors.New("no organizations given or configured")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.mesh.CreateMeshTopologies(cmd.Context(), orgs, meshCutoff)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		return mesh.Err(results)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete links and nodes past their expiration window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

var snapshotDate string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <id>",
	Short: "Save today's snapshot of a topology, or print a stored one with --date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if snapshotDate != "" {
			snap, err := a.topologies.Snapshot(cmd.Context(), args[0], snapshotDate)
			if err != nil {
				return err
			}
			g, err := snap.Graph()
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), g)
		}

		snap, err := a.topologies.SaveSnapshot(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		a.logger.Info("snapshot saved", zap.String("topology", args[0]), zap.String("date", snap.Date))
		return printResult(cmd.OutOrStdout(), map[string]string{"topology_id": snap.TopologyID, "date": snap.Date})
	},
}

var telemetryCmd = &cobra.Command{
	Use:   "telemetry <file>",
	Short: "Store device samples from a JSON file",
	Long:  `Store one device sample, or a JSON array of samples, for mesh aggregation.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		samples, err := decodeSamples(data)
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var errs []error
		recorded := 0
		for i := range samples {
			if err := a.mesh.RecordSample(cmd.Context(), &samples[i]); err != nil {
				errs = append(errs, fmt.Errorf("sample %d (%s): %w", i, samples[i].DeviceID, err))
				continue
			}
			recorded++
		}
		if err := printResult(cmd.OutOrStdout(), map[string]int{"recorded": recorded, "failed": len(errs)}); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

// decodeSamples accepts a single sample object or an array of samples
func decodeSamples(data []byte) ([]domain.DeviceSample, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var samples []domain.DeviceSample
		if err := json.Unmarshal(data, &samples); err != nil {
			return nil, fmt.Errorf("decode samples: %w", err)
		}
		return samples, nil
	}
	var s domain.DeviceSample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	return []domain.DeviceSample{s}, nil
}

func init() {
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "update every fetch topology")
	receiveCmd.Flags().StringVar(&receiveKey, "key", "", "topology key")
	meshCmd.Flags().DurationVar(&meshCutoff, "cutoff", 0, "ignore samples older than this (default from config)")
	snapshotCmd.Flags().StringVar(&snapshotDate, "date", "", "print the snapshot of a YYYY-MM-DD date")

	rootCmd.AddCommand(updateCmd, receiveCmd, meshCmd, sweepCmd, snapshotCmd, telemetryCmd)
}
