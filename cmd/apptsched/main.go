package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/apptsched/internal/config"
	"github.com/ehr/apptsched/internal/domain/booking"
	"github.com/ehr/apptsched/internal/platform/db"
	"github.com/ehr/apptsched/internal/platform/scheduling"
	"github.com/ehr/apptsched/internal/platform/telemetry"
	"github.com/ehr/apptsched/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apptsched",
		Short: "Doctor appointment slot scheduler",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newService(cfg *config.Config, st *stores, logger zerolog.Logger, metrics *telemetry.Provider) (*booking.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return booking.NewService(st.hours, st.ledger, st.serials, booking.Options{
		Location:           loc,
		MaxAdvanceDays:     cfg.MaxAdvanceDays,
		MaxDurationMinutes: cfg.MaxDurationMinutes,
		Logger:             logger,
		Metrics:            metrics,
	}), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		fallback := newLogger(nil, os.Stdout)
		fallback.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open stores")
		return err
	}
	defer st.Close()

	metrics := telemetry.NewProvider()
	svc, err := newService(cfg, st, logger, metrics)
	if err != nil {
		return err
	}
	e := newServer(cfg, logger, svc, metrics, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", cfg.ClinicTimezone).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if st.pool != nil {
		g.Go(func() error {
			db.ReportPoolStats(gctx, st.pool, 15*time.Second, metrics.SetDBPool)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.UpTo(ctx, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Query slot availability against the configured stores",
	}

	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next free slot for a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			dateFlag, _ := cmd.Flags().GetString("date")
			duration, _ := cmd.Flags().GetInt("duration")
			modeFlag, _ := cmd.Flags().GetString("mode")

			doctorID, err := uuid.Parse(doctorFlag)
			if err != nil {
				return fmt.Errorf("--doctor: %w", err)
			}
			mode, err := scheduling.ParseMode(modeFlag)
			if err != nil {
				return fmt.Errorf("--mode: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := newService(cfg, st, logger, nil)
			if err != nil {
				return err
			}

			date := svc.Today()
			if dateFlag != "" {
				if date, err = civil.ParseDate(dateFlag); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			res, err := svc.FindNextSlot(ctx, scheduling.SlotRequest{
				DoctorID: doctorID, Date: date, DurationMinutes: duration, Mode: mode,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	nextCmd.Flags().String("doctor", "", "Doctor UUID")
	nextCmd.Flags().String("date", "", "Service date (YYYY-MM-DD, default today)")
	nextCmd.Flags().Int("duration", 15, "Slot length in minutes")
	nextCmd.Flags().String("mode", "time", "time or number")
	_ = nextCmd.MarkFlagRequired("doctor")
	cmd.AddCommand(nextCmd)

	return cmd
}

func printResult(w io.Writer, res *booking.FindResult) {
	if res.Exhaustion != nil {
		fmt.Fprintf(w, "no slot: %s after %d day(s)\n", res.Exhaustion.Error(), res.DaysSearched)
		return
	}
	p := res.Proposal
	if res.Mode == scheduling.NumberBased {
		fmt.Fprintf(w, "%s serial %d\n", p.Date, res.QueueSerial)
		return
	}
	line := fmt.Sprintf("%s %s-%s", p.Date, p.StartClock(), p.EndClock())
	if p.EndsNextDay() {
		line += " (+1 day)"
	}
	if p.IsAutoAdvancedDate {
		line += " [advanced]"
	}
	fmt.Fprintln(w, line)
}
