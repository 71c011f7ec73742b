package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitspots/outbox/internal/config"
	"github.com/sitspots/outbox/internal/connectivity"
	"github.com/sitspots/outbox/internal/drain"
	"github.com/sitspots/outbox/internal/gateway"
	"github.com/sitspots/outbox/internal/outbox"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, dataDir string
	root := &cobra.Command{
		Use:           "outboxctl",
		Short:         "Inspect and drain the sitspots offline mutation queue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SITSPOTS_CONFIG"), "path to YAML config")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", os.Getenv("SITSPOTS_DATA_DIR"), "override data directory")

	root.AddCommand(
		newListCmd(&configPath, &dataDir),
		newShowCmd(&configPath, &dataDir),
		newRemoveCmd(&configPath, &dataDir),
		newStatusCmd(&configPath, &dataDir),
		newDrainCmd(&configPath, &dataDir),
	)
	return root
}

func loadConfig(configPath, dataDir string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg.WithDataDir(dataDir), nil
}

func openQueue(ctx context.Context, cfg config.Config) (*outbox.Queue, error) {
	queueStore, err := outbox.BuildQueueStoreFromDSN(cfg.QueueDSN)
	if err != nil {
		return nil, fmt.Errorf("queue store: %w", err)
	}
	payloadStore, err := outbox.BuildPayloadStoreFromDSN(cfg.PayloadDSN)
	if err != nil {
		return nil, fmt.Errorf("payload store: %w", err)
	}

	var watcher *outbox.PayloadWatcher
	if fileStore, ok := payloadStore.(*outbox.FilePayloadStore); ok {
		watcher, err = outbox.NewPayloadWatcher(fileStore.Dir())
		if err != nil {
			return nil, err
		}
	}

	var source connectivity.Source
	if cfg.Gateway.ProbeURL != "" {
		source, err = connectivity.NewWebsocketProbe(cfg.Gateway.ProbeURL, cfg.Gateway.ProbeIntervalDuration())
		if err != nil {
			return nil, err
		}
	}
	monitor := connectivity.NewMonitor(source)

	queue := outbox.New(outbox.Options{
		QueueStore:   queueStore,
		PayloadStore: payloadStore,
		Monitor:      monitor,
		Watcher:      watcher,
	})
	if err := queue.Initialize(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func withQueue(configPath, dataDir *string, fn func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error) error {
	ctx := context.Background()
	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Warn("close outbox", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, cfg, queue)
}

func newListCmd(configPath, dataDir *string) *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutation records in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(configPath, dataDir, func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error {
				filter := make([]outbox.MutationKind, 0, len(kinds))
				for _, k := range kinds {
					filter = append(filter, outbox.MutationKind(k))
				}
				records := queue.List(filter...)
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}
				for _, record := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-19s  actor=%s  created=%s  payload=%s\n",
						record.ID, record.Kind, record.ActorID,
						time.UnixMilli(record.CreatedAt).UTC().Format(time.RFC3339),
						truncate(record.Payload, 40))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by mutation kind (repeatable)")
	return cmd
}

func newShowCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one record with its payload resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(configPath, dataDir, func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error {
				record, err := queue.FetchHydrated(ctx, args[0])
				if err != nil {
					return err
				}
				display := *record
				display.Payload = truncate(display.Payload, 80)
				out, err := json.MarshalIndent(display, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}
}

func newRemoveCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a record and its stored payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(configPath, dataDir, func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error {
				return queue.Remove(ctx, args[0])
			})
		},
	}
}

func newStatusCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and drainability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(configPath, dataDir, func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error {
				fmt.Fprintf(cmd.OutOrStdout(), "queue dsn:    %s\n", cfg.QueueDSN)
				fmt.Fprintf(cmd.OutOrStdout(), "payload dsn:  %s\n", cfg.PayloadDSN)
				fmt.Fprintf(cmd.OutOrStdout(), "records:      %d\n", queue.Len())
				fmt.Fprintf(cmd.OutOrStdout(), "online:       %v\n", queue.Monitor().IsOnline())
				fmt.Fprintf(cmd.OutOrStdout(), "drainable:    %v\n", queue.HasWorkToDrain())
				return nil
			})
		},
	}
}

func newDrainCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued mutations against the backend once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(configPath, dataDir, func(ctx context.Context, cfg config.Config, queue *outbox.Queue) error {
				gw := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, nil)
				coordinator, err := drain.NewCoordinator(queue, gw, slog.Default())
				if err != nil {
					return err
				}
				// The operator invoking drain asserts reachability; the
				// websocket probe may not have reported yet.
				queue.Monitor().Report(true)
				applied, err := coordinator.DrainOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d record(s), %d remaining\n", applied, queue.Len())
				return err
			})
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
