package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriptorium-dev/palimpsest"
	"github.com/scriptorium-dev/palimpsest/config"
	"github.com/scriptorium-dev/palimpsest/entity"
	"github.com/scriptorium-dev/palimpsest/event"
	"github.com/scriptorium-dev/palimpsest/store"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "palimpsest",
		Short: "Expand JSON-LD entities with the annotations that target them",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(expandCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func expandCmd() *cobra.Command {
	var (
		matchOn  []string
		queryURL string
		flat     bool
	)

	cmd := &cobra.Command{
		Use:   "expand <uri>",
		Short: "Fetch an entity and fold its current annotations onto it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if queryURL != "" {
				cfg.Store.QueryURL = queryURL
			}
			if len(matchOn) > 0 {
				cfg.MatchOn = matchOn
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			registry, closeRegistry, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeRegistry()

			st, err := store.NewHTTPStore(store.HTTPOptions{
				QueryURL:  cfg.Store.QueryURL,
				Client:    &http.Client{Timeout: cfg.Store.GetTimeout()},
				Registrar: registry,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			opts := []palimpsest.Option{
				palimpsest.WithLogger(logger),
				palimpsest.WithRegistry(registry),
			}
			if cfg.Events.NATSURL != "" {
				publisher, err := event.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
				if err != nil {
					return err
				}
				defer publisher.Close()
				opts = append(opts, palimpsest.WithPublisher(publisher))
			}

			engine := palimpsest.New(st, opts...)
			ent, err := engine.Expand(cmd.Context(), args[0], cfg.MatchOn...)
			if err != nil {
				return err
			}

			if persister, ok := registry.(*entity.RedisRegistry); ok {
				if err := persister.Persist(cmd.Context(), ent); err != nil {
					logger.Warn("failed to persist expanded entity",
						slog.String("identifier", ent.ID),
						slog.String("error", err.Error()),
					)
				}
			}

			return printEntity(cmd, ent, flat)
		},
	}

	cmd.Flags().StringSliceVar(&matchOn, "match-on", nil, "provenance paths to gate annotations on")
	cmd.Flags().StringVar(&queryURL, "query-url", "", "annotation store query endpoint")
	cmd.Flags().BoolVar(&flat, "flat", false, "unwrap value objects to plain values")

	return cmd
}

func newRegistry(cfg *config.Config) (entity.Registry, func(), error) {
	switch cfg.Registry.Backend {
	case "redis":
		r, err := entity.NewRedisRegistry(entity.RedisOptions{
			URL: cfg.Registry.RedisURL,
			TTL: cfg.Registry.GetTTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		return entity.NewMemoryRegistry(), func() {}, nil
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printEntity(cmd *cobra.Command, ent *entity.Entity, flat bool) error {
	var out any = ent
	if flat {
		doc := map[string]any{entity.IDKey: ent.ID}
		for key := range ent.Attributes() {
			doc[key] = ent.Flatten(key)
		}
		out = doc
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
