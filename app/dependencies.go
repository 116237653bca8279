package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/upb/wikigate/config"
	"github.com/upb/wikigate/engine"
	"github.com/upb/wikigate/firebase"
	"github.com/upb/wikigate/handlers"
	"github.com/upb/wikigate/middleware"
	"github.com/upb/wikigate/policy"
	"github.com/upb/wikigate/session"
	"github.com/upb/wikigate/store"
	"github.com/upb/wikigate/utils"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *store.DB // nil when no membership database is configured

	// Core services
	KeyCache *firebase.KeyCache
	Verifier *firebase.Verifier
	Sessions *session.Service
	Policy   *policy.Policy
	Engine   *engine.Engine

	// HTTP surface
	Gate     *middleware.Gate
	Health   *handlers.HealthHandler
	Upstream http.Handler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initPolicy(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize policy: %w", err)
	}

	if err := deps.initAuth(); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initUpstream(); err != nil {
		return nil, fmt.Errorf("failed to initialize upstream: %w", err)
	}

	if deps.DB != nil {
		deps.Health = handlers.NewHealthHandler(deps.DB.DB, logger)
	} else {
		deps.Health = handlers.NewHealthHandler(nil, logger)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the optional membership store
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if d.Config.Database == nil {
		d.Logger.Info("no membership database configured, using env lists")
		return nil
	}

	db, err := store.NewDB(*d.Config.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	d.DB = db
	return nil
}

// initPolicy builds the policy from env lists, extended from the membership
// store when one is configured
func (d *Dependencies) initPolicy(ctx context.Context) error {
	cfg := d.Config.Policy

	banned := append([]string(nil), cfg.BannedUsers...)
	admins := append([]string(nil), cfg.AdminUsers...)
	protected := append([]string(nil), cfg.ProtectedPages...)

	if d.DB != nil {
		repo := store.NewMembershipRepository(d.DB.DB, d.Logger)

		dbBanned, err := repo.ListBanned(ctx)
		if err != nil {
			return err
		}
		dbAdmins, err := repo.ListAdmins(ctx)
		if err != nil {
			return err
		}
		dbProtected, err := repo.ListProtectedPages(ctx)
		if err != nil {
			return err
		}

		banned = append(banned, dbBanned...)
		admins = append(admins, dbAdmins...)
		protected = append(protected, dbProtected...)
	}

	d.Policy = &policy.Policy{
		AllowUnauthenticatedReads: cfg.AllowUnauthenticatedReads,
		AdminBypassProtected:      cfg.AdminBypassProtected,
	}
	if len(banned) > 0 {
		d.Policy.Banned = policy.StaticList(banned)
	}
	if len(admins) > 0 {
		d.Policy.Admins = policy.StaticList(admins)
	}
	if len(protected) > 0 {
		d.Policy.ProtectedPages = policy.StaticList(protected)
	}

	d.Logger.Info("policy initialized",
		zap.Int("banned", len(banned)),
		zap.Int("admins", len(admins)),
		zap.Int("protected_pages", len(protected)),
		zap.Bool("allow_unauthenticated_reads", cfg.AllowUnauthenticatedReads),
		zap.Bool("admin_bypass_protected", cfg.AdminBypassProtected))
	return nil
}

// initAuth wires the key cache, verifier, session service, engine, and gate
func (d *Dependencies) initAuth() error {
	d.KeyCache = firebase.NewKeyCache(
		d.Config.Firebase.CertURL,
		d.Config.Firebase.HTTPTimeout,
		d.Logger)

	d.Verifier = firebase.NewVerifier(d.Config.Firebase.ProjectID, d.KeyCache, d.Logger)

	sessions, err := session.NewService(d.Verifier, d.Logger)
	if err != nil {
		return err
	}
	d.Sessions = sessions

	classifier := policy.NewClassifier(d.Config.Session.BasePath)
	d.Engine = engine.New(sessions, d.Policy, classifier, d.Config.Session.Lifetime, d.Logger)

	d.Gate = middleware.NewGate(d.Engine, middleware.GateConfig{
		CookieName:        d.Config.Session.CookieName,
		BasePath:          d.Config.Session.BasePath,
		FirebaseWebConfig: d.Config.Firebase.WebConfig,
		SecureCookie:      d.Config.IsProduction(),
	}, d.Logger)

	return nil
}

// initUpstream builds the reverse proxy to the protected wiki
func (d *Dependencies) initUpstream() error {
	if d.Config.Upstream.URL == "" {
		d.Logger.Warn("no upstream configured, gated requests will return 502")
		d.Upstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = utils.WriteError(w, http.StatusBadGateway, "no upstream configured", nil)
		})
		return nil
	}

	target, err := url.Parse(d.Config.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		d.Logger.Error("upstream proxy error", zap.Error(err))
		_ = utils.WriteError(w, http.StatusBadGateway, "upstream unavailable", nil)
	}

	d.Upstream = proxy
	d.Logger.Info("upstream proxy initialized", zap.String("url", d.Config.Upstream.URL))
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
