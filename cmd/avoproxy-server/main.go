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

	"github.com/common-nighthawk/go-figure"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/config"
	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp/hetarchief"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp/klascement"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp/smartschool"
	"github.com/mikepea/avoproxy/pkg/avoproxy/logging"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
	"github.com/mikepea/avoproxy/pkg/avoproxy/profile"
	"github.com/mikepea/avoproxy/pkg/avoproxy/search"
	"github.com/mikepea/avoproxy/pkg/avoproxy/server"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/stampcrypt"
	"github.com/mikepea/avoproxy/pkg/avoproxy/tokencache"
	"github.com/mikepea/avoproxy/pkg/avoproxy/whitelist"
)

// @title AvO Proxy API
// @version 1.0
// @description Backend for the educational media platform: logins, whitelisted data access and search.

// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
// @description Proxy api key. Format: "Bearer {key}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.IsDevelopment(), cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("avoproxy stopped")
	}
	log.Info().Msg("avoproxy stopped")
}

func run(cfg *config.Config) error {
	if cfg.IsDevelopment() {
		figure.NewFigure("avoproxy", "cybermedium", true).Print()
		fmt.Println()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenAndMigrate(cfg.DatabasePath)
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.DatabasePath).Msg("database migrations completed")

	seed, err := permissions.DefaultSeed()
	if err != nil {
		return err
	}
	if err := permissions.Seed(db, seed); err != nil {
		return err
	}

	store, closeStore, err := openSessionStore(cfg.Session)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	wl, err := whitelist.Load()
	if err != nil {
		return err
	}
	g := gate.Default()
	for _, ns := range []gate.Namespace{gate.Client, gate.Server} {
		if err := g.Validate(ns, wl.Names(ns)); err != nil {
			return fmt.Errorf("permission gate: %w", err)
		}
	}

	stamps, err := stampcrypt.New(cfg.StampEncryptionKey)
	if err != nil {
		return err
	}

	var searchTokens search.TokenSource
	if cfg.Search.TokenURL != "" {
		searchTokens = tokencache.NewClientCredentials(cfg.Search.TokenURL, cfg.Search.ClientID, cfg.Search.ClientSecret)
	}

	router := server.NewRouter(server.Dependencies{
		Config:       cfg,
		DB:           db,
		Sessions:     session.NewManager(store, cfg.Session),
		Registry:     registry,
		Whitelist:    wl,
		Gate:         g,
		Stamps:       stamps,
		SearchTokens: searchTokens,
		Mailer:       profile.LogMailer{},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting avoproxy server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openSessionStore(cfg config.SessionConfig) (session.Store, io.Closer, error) {
	if cfg.Store == config.SessionStoreBadger {
		// Records are kept a day past their expiry.
		store, err := session.OpenBadgerStore(cfg.BadgerPath, cfg.TTL+24*time.Hour)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.BadgerPath).Msg("using badger session store")
		return store, store, nil
	}
	log.Info().Int("limit", cfg.MemoryLimit).Msg("using in-memory session store")
	return session.NewMemoryStore(cfg.MemoryLimit, cfg.TTL), nopCloser{}, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config) (*idp.Registry, error) {
	callback := func(t idp.Type, route string) string {
		return cfg.ProxyURL + "/auth/" + t.Slug() + "/" + route
	}

	het, err := hetarchief.New(ctx, hetarchief.Config{
		EntityID:    cfg.SAML.EntityID,
		AcsURL:      callback(idp.HetArchief, "login-callback"),
		SloURL:      callback(idp.HetArchief, "logout-callback"),
		MetadataURL: cfg.SAML.IDPMetadataURL,
		CertPath:    cfg.SAML.CertPath,
		KeyPath:     cfg.SAML.KeyPath,
		Entitlement: cfg.SAML.RequiredEntitlement,
	})
	if err != nil {
		return nil, err
	}

	ss := smartschool.New(smartschool.Config{
		ClientID:     cfg.Smartschool.ClientID,
		ClientSecret: cfg.Smartschool.ClientSecret,
		AuthURL:      cfg.Smartschool.AuthURL,
		TokenURL:     cfg.Smartschool.TokenURL,
		UserInfoURL:  cfg.Smartschool.UserInfoURL,
		RedirectURL:  callback(idp.Smartschool, "login-callback"),
		Scopes:       cfg.Smartschool.Scopes,
	})

	kc, err := klascement.New(ctx, klascement.Config{
		Issuer:       cfg.KlasCement.Issuer,
		ClientID:     cfg.KlasCement.ClientID,
		ClientSecret: cfg.KlasCement.ClientSecret,
		RedirectURL:  callback(idp.KlasCement, "login-callback"),
		Scopes:       cfg.KlasCement.Scopes,
	})
	if err != nil {
		return nil, err
	}

	return idp.NewRegistry(het, ss, kc)
}
