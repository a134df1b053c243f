// Command gymcore runs the gym back office API and its maintenance tasks.
//
//	gymcore [serve]                 run the HTTP API and the expiry sweeper
//	gymcore migrate                 apply pending schema migrations and exit
//	gymcore hash-token [token]      print the argon2id hash for a staff token
//	gymcore member -kind trainer -id T1 -name "Aiko" [-inactive]
//	                                create or update a trainer or client
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/auth"
	"github.com/example/gym-backoffice/internal/config"
	httptransport "github.com/example/gym-backoffice/internal/http"
	"github.com/example/gym-backoffice/internal/jobs"
	"github.com/example/gym-backoffice/internal/logging"
	"github.com/example/gym-backoffice/internal/metrics"
	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/persistence/sqlite"
	"github.com/example/gym-backoffice/internal/telemetry"
)

const serviceName = "gymcore"

// version is overridden at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	if command == "hash-token" {
		return hashToken(args, stdin, stdout)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(stdout, cfg.LogFormat, cfg.LogLevel).With("service", serviceName)
	slog.SetDefault(logger)

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return store.Close()
	case "member":
		return upsertMember(ctx, cfg, logger, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.RequireStaffTokens(); err != nil {
		return err
	}
	registry, err := auth.ParseRegistry(cfg.StaffTokens)
	if err != nil {
		return fmt.Errorf("GYM_STAFF_TOKENS: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, version, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	recorder := metrics.New()
	bookings := application.NewBookingService(store, uuid.NewString, time.Now).WithInstrumentation(logger, recorder)
	contracts := application.NewContractService(store, uuid.NewString, time.Now, cfg.PendingExpiryWindow).WithInstrumentation(logger, recorder)
	sweeper := jobs.NewExpirySweeper(contracts, cfg.SystemActor, cfg.ExpirySweepInterval, logger, recorder)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Bookings:  httptransport.NewBookingHandler(bookings, logger),
		Contracts: httptransport.NewContractHandler(contracts, logger),
		Health:    httptransport.NewHealthHandler(store, logger),
		Metrics:   recorder.Handler(),
		Staff:     httptransport.RequireStaff(registry, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger, recorder),
			httptransport.Recover(logger),
		},
	})

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gym back office API listening", "addr", server.Addr, "staff", len(registry.Actors()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("gym back office API stopped")
		return nil
	})

	return group.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Store, error) {
	dialect, err := sqlite.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.Open(ctx, sqlite.Config{
		Dialect:      dialect,
		DSN:          cfg.DBDSN,
		BusyTimeout:  cfg.DBBusyTimeout,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx, logger); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

// hashToken reads the token from the first argument or, when absent, from the
// first line of stdin so it stays out of shell history.
func hashToken(args []string, stdin io.Reader, stdout io.Writer) error {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read token: %w", err)
		}
		token = line
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}

	encoded, err := auth.HashToken(token, auth.DefaultParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, encoded)
	return err
}

func upsertMember(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	member, err := parseMemberFlags(args)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpsertMember(ctx, member); err != nil {
		return fmt.Errorf("upsert %s %s: %w", member.Kind, member.ID, err)
	}
	logger.Info("member saved", "kind", member.Kind, "member_id", member.ID, "active", member.Active)
	return nil
}

func parseMemberFlags(args []string) (persistence.Member, error) {
	fs := flag.NewFlagSet("member", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("kind", "", "trainer or client")
	id := fs.String("id", "", "member identifier")
	name := fs.String("name", "", "display name")
	inactive := fs.Bool("inactive", false, "mark the member inactive")
	if err := fs.Parse(args); err != nil {
		return persistence.Member{}, err
	}

	member := persistence.Member{
		ID:          strings.TrimSpace(*id),
		Kind:        persistence.MemberKind(strings.ToLower(strings.TrimSpace(*kind))),
		DisplayName: strings.TrimSpace(*name),
		Active:      !*inactive,
	}
	if member.Kind != persistence.MemberTrainer && member.Kind != persistence.MemberClient {
		return persistence.Member{}, fmt.Errorf("-kind must be %q or %q", persistence.MemberTrainer, persistence.MemberClient)
	}
	if member.ID == "" {
		return persistence.Member{}, errors.New("-id is required")
	}
	return member, nil
}
