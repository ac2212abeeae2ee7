package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"booky.app/internal/audit"
	"booky.app/internal/auth"
	"booky.app/internal/blacklist"
	"booky.app/internal/config"
	"booky.app/internal/httpapi"
	"booky.app/internal/kvstore"
	bookymail "booky.app/internal/mail"
	"booky.app/internal/obs"
	"booky.app/internal/ratelimit"
	"booky.app/internal/registration"
	"booky.app/internal/session"
	"booky.app/internal/token"
	"booky.app/internal/users"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("booky-accounts exited", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetOutput(os.Stdout, cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kvstore.New(ctx, kvstore.Config{
		Driver:  cfg.Store.Driver,
		Timeout: cfg.Store.Timeout,
		Redis: kvstore.RedisConfig{
			Addr:     cfg.Store.Addr,
			Username: cfg.Store.Username,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		},
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var (
		dir  users.Directory
		sink audit.Sink = audit.LogSink{}
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		defer db.Close()
		dir = users.NewPGDirectory(db)
		sink = audit.NewPGSink(db)
	} else {
		log.Warn("no database configured, users are kept in memory")
		dir = users.NewMemory()
	}
	recorder := audit.NewRecorder(sink)

	issuer, err := token.NewIssuer(cfg.Token.Secret,
		token.WithIssuer(cfg.Token.Issuer),
		token.WithAccessTTL(cfg.Token.AccessTTL),
		token.WithRefreshTTL(cfg.Token.RefreshTTL),
	)
	if err != nil {
		return err
	}
	bl := blacklist.New(store)
	strategy, err := session.New(cfg.Session.RefreshMode, issuer, bl,
		session.NewRegistry(store, cfg.Session.TTL), session.Options{Rotate: cfg.Session.Rotate})
	if err != nil {
		return err
	}

	var mailer bookymail.Dispatcher = bookymail.LogDispatcher{}
	if cfg.Mail.SMTPAddr != "" {
		smtp, err := bookymail.NewSMTP(cfg.Mail.SMTPAddr, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From)
		if err != nil {
			return err
		}
		mailer = smtp
	} else {
		log.Warn("no smtp server configured, confirmation emails are logged")
	}

	ledger := registration.NewLedger(store, dir, cfg.Registration.PendingTTL)
	limiter := ratelimit.New(store, cfg.Registration.RateLimit, cfg.Registration.RateWindow)
	probe := httpapi.ReadyProbe{Store: store, Users: dir}

	api := httpapi.New(httpapi.Options{
		Auth:         auth.NewService(dir, issuer, bl, strategy, recorder),
		Registration: registration.NewService(ledger, limiter, mailer, recorder, cfg.Mail.VerifyURL),
		Cookie:       cfg.Cookie,
		Readiness:    probe,
		Version:      version,
		RateBurst:    cfg.HTTPRate.Burst,
		RatePerSec:   cfg.HTTPRate.PerSecond,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := grpc.NewServer()
	httpapi.NewHealthServer(probe).Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", srv.Addr, "version", version, "refresh_mode", cfg.Session.RefreshMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.Info("grpc listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
