// Command samlbridge runs the SAML login gateway in front of a protected
// application.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"flag"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/configstore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/directory"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/excludestore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/metadata"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/metrics"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/rights"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/session"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/signature"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/statestore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driving/httpd"
	"github.com/DonutsNL/samlbridge/internal/config"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
	"github.com/DonutsNL/samlbridge/internal/core/service"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "samlbridge.yaml", "Path to the configuration file")
	importPath := flag.String("import-metadata", "", "Import an IdP metadata XML file into a new configuration and exit")
	importName := flag.String("import-name", "", "Friendly name for the imported configuration")
	importTrust := flag.String("import-trust", "", "PEM file with trust anchors; when set the metadata signature must verify against them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger depends on the config; this failure goes to stderr.
		os.Stderr.WriteString("samlbridge: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging.Debug)
	defer func() { _ = logger.Sync() }()

	if *importPath != "" {
		if err := importMetadata(cfg, logger, *importPath, *importName, *importTrust); err != nil {
			logger.Fatal("metadata import failed", zap.Error(err))
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("samlbridge failed", zap.Error(err))
	}
}

// importMetadata seeds a new IdP configuration from a metadata document.
// The imported fields overlay the configuration template, so the result
// still passes through every field validator; the configuration starts
// inactive and must be reviewed before it is enabled.
func importMetadata(cfg *config.Config, logger *zap.Logger, path, name, trustPath string) error {
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	importer := metadata.NewImporter()
	if trustPath != "" {
		certs, err := signature.LoadTrustCertificates(trustPath)
		if err != nil {
			return err
		}
		importer = metadata.NewImporterWithVerifier(signature.NewDsigVerifier(certs, logger))
	}
	fields, err := importer.Import(data)
	if err != nil {
		return err
	}

	db, err := dbclient.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := dbclient.EnsureSchema(ctx, db, cfg.Database.Driver); err != nil {
		return err
	}

	raw := domain.TemplateRaw()
	for k, v := range fields {
		raw[k] = v
	}
	if name != "" {
		raw[domain.FieldName] = name
	}
	loaded := domain.LoadIdPConfig(0, raw)
	if !loaded.IsValid() {
		for _, fe := range loaded.FieldErrors() {
			logger.Error("imported field invalid",
				zap.String("field", fe.Field),
				zap.String("message", fe.Message))
		}
		return errors.New("the imported metadata does not produce a valid configuration")
	}

	configs := configstore.NewSQLStore(db, cfg.Database.Driver)
	id, err := configs.Save(ctx, 0, raw)
	if err != nil {
		return err
	}
	logger.Info("identity provider imported",
		zap.Int64("id", id),
		zap.String("name", raw[domain.FieldName]),
		zap.String("entity_id", raw[domain.FieldIdPEntityID]))
	return nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return err
	}

	db, err := dbclient.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := dbclient.EnsureSchema(ctx, db, cfg.Database.Driver); err != nil {
		return err
	}
	logger.Info("database ready",
		zap.String("driver", cfg.Database.Driver))

	configs := configstore.NewSQLStore(db, cfg.Database.Driver)
	states := statestore.NewSQLStore(db, cfg.Database.Driver)
	excludes := excludestore.NewSQLStore(db, cfg.Database.Driver)
	users := directory.NewSQLDirectory(db, cfg.Database.Driver)

	recorder := metrics.NewPrometheusMetricsRecorder()

	assigner, err := buildAssigner(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sessionKey, err := loadSessionKey(cfg, logger)
	if err != nil {
		return err
	}
	sessions := session.NewCookieSessionStore(sessionKey, cfg.Session.Duration)

	samlsvc := service.NewSAMLService(logger)
	resolver := service.NewUserResolver(users, assigner, recorder, logger)
	consumer := service.NewAssertionConsumer(configs, states, samlsvc, resolver, recorder, logger)
	flow := service.NewLoginFlow(excludes, states, configs, samlsvc, sessions, recorder, logger, baseURL, cfg.Session.Duration)

	sweeper := statestore.NewSweeper(states, recorder, logger, cfg.Retention.Window, cfg.Retention.Interval)
	sweeper.Start()
	defer sweeper.Stop()

	handler, err := httpd.NewHandler(flow, consumer, configs, samlsvc, db, logger, httpd.Options{
		SIDCookieName:     cfg.Session.SIDCookieName,
		SessionCookieName: cfg.Session.CookieName,
		SecureCookies:     cfg.Server.SecureCookies,
		Version:           version,
	})
	if err != nil {
		return err
	}

	next, err := buildUpstream(cfg, logger)
	if err != nil {
		return err
	}

	router := handler.Router(next)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("samlbridge listening",
			zap.String("addr", cfg.Server.Listen),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

// buildAssigner wires the rights rules file when configured, otherwise a
// static assigner handing every user the deployment defaults.
func buildAssigner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.RightsAssigner, error) {
	if cfg.Rights.RulesFile == "" {
		logger.Info("no rights rules file configured, using defaults")
		return rights.NewStaticAssigner(domain.RightsResult{}), nil
	}
	assigner := rights.NewFileAssigner(cfg.Rights.RulesFile, logger)
	if err := assigner.Refresh(ctx); err != nil {
		return nil, err
	}
	return assigner, nil
}

// loadSessionKey loads the signing key or generates an ephemeral one.
func loadSessionKey(cfg *config.Config, logger *zap.Logger) (*rsa.PrivateKey, error) {
	if cfg.Session.KeyFile != "" {
		return session.LoadPrivateKey(cfg.Session.KeyFile)
	}
	logger.Warn("no session key file configured, sessions will not survive a restart")
	return rsa.GenerateKey(rand.Reader, 2048)
}

// buildUpstream returns the reverse proxy to the protected application,
// or a minimal placeholder when no upstream is configured.
func buildUpstream(cfg *config.Config, logger *zap.Logger) (http.Handler, error) {
	if cfg.Server.Upstream == "" {
		logger.Warn("no upstream configured, non-SAML requests get a placeholder response")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "samlbridge: no upstream configured", http.StatusBadGateway)
		}), nil
	}
	target, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
