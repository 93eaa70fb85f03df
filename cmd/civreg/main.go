package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/jwtauth"
	"github.com/atvirokodosprendimai/civreg/internal/app"
	"github.com/atvirokodosprendimai/civreg/internal/config"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/usecase"
	"github.com/atvirokodosprendimai/civreg/internal/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "civreg",
		Usage: "Civil registration event and action engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Sources: cli.EnvVars("CIVREG_ENV_FILE"),
				Usage:   "dotenv file loaded before reading CIVREG_ variables; missing files are ignored",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			reindexCommand(),
			tokenCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("civreg failed", "error", err)
		os.Exit(1)
	}
}

func load(c *cli.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the outbox dispatcher",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := load(c)
			if err != nil {
				return err
			}

			server, closer, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Error("close resources", "error", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", cfg.Addr, "db_driver", cfg.DBDriver)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				return shutdown(server)
			case sig := <-sigCh:
				log.Info("received signal", "signal", sig.String())
				return shutdown(server)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := load(c)
			if err != nil {
				return err
			}
			storage, err := app.OpenStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer storage.Close()
			version, err := storage.Migrate(ctx)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "db_driver", cfg.DBDriver, "version", version)
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Republish every event document to the search feed",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Value: 100, Usage: "events fetched per page"},
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "events folded concurrently"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := load(c)
			if err != nil {
				return err
			}
			start := time.Now()
			n, err := app.Reindex(ctx, cfg, log, usecase.ReplayOptions{
				BatchSize: int(c.Int("batch-size")),
				Workers:   int(c.Int("workers")),
			})
			if err != nil {
				return fmt.Errorf("reindex after %d events: %w", n, err)
			}
			log.Info("reindex finished", "events", n, "duration", time.Since(start))
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a signed bearer token for local testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sub", Required: true, Usage: "user id"},
			&cli.StringFlag{Name: "role", Value: "REGISTRAR"},
			&cli.StringFlag{Name: "user-type", Value: string(domain.UserTypeUser)},
			&cli.StringFlag{Name: "office"},
			&cli.StringSliceFlag{Name: "scope", Usage: "granted scope, repeatable"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, _, err := load(c)
			if err != nil {
				return err
			}
			token, err := jwtauth.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience).Issue(domain.Actor{
				ID:              c.String("sub"),
				Role:            c.String("role"),
				UserType:        domain.UserType(c.String("user-type")),
				PrimaryOfficeID: c.String("office"),
				Scopes:          c.StringSlice("scope"),
			}, c.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, token)
			return err
		},
	}
}
