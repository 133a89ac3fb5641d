package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/greenproof/greenproof/internal/api"
	"github.com/greenproof/greenproof/internal/app/orchestrator"
	"github.com/greenproof/greenproof/internal/infra/dedup"
	"github.com/greenproof/greenproof/internal/infra/redisledger"
	"github.com/greenproof/greenproof/internal/infra/sqlite"
	"github.com/greenproof/greenproof/internal/infra/vision"
	"github.com/greenproof/greenproof/internal/ledger"
)

// VisionClient builds the classification client from config. The credential
// is passed in, never read from the file.
func (c Config) VisionClient(apiKey string) *vision.Client {
	return vision.New(vision.Config{
		BaseURL:     c.Vision.BaseURL,
		APIKey:      apiKey,
		Model:       c.Vision.Model,
		MaxTokens:   c.Vision.MaxTokens,
		Temperature: c.Vision.Temperature,
		Timeout:     parseDuration(c.Vision.Timeout, vision.DefaultConfig().Timeout),
	})
}

// Daemon is the assembled GreenProof service.
type Daemon struct {
	cfg    Config
	log    *logrus.Logger
	db     *sqlite.DB
	remote *redisledger.Store
	ledger *ledger.Ledger
	orch   *orchestrator.Orchestrator
	server *http.Server
	cron   *cron.Cron
}

// New builds the daemon from config. It opens storage and verifies remote
// connectivity (a down Redis is logged, not fatal: the ledger degrades to
// offline operation).
func New(cfg Config) (*Daemon, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.SQLitePath), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sqlite.Open(cfg.Ledger.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open local ledger: %w", err)
	}

	remote := redisledger.New(redisledger.Config{
		Addr:     cfg.Ledger.RedisAddr,
		Password: cfg.Ledger.RedisPassword,
		DB:       cfg.Ledger.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := remote.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("remote ledger store unreachable, starting in offline mode")
	}
	cancel()

	apiKey := APIKey()
	if apiKey == "" {
		log.Warn("no vision API key in GREENPROOF_API_KEY or OPENAI_API_KEY, classification will fail")
	}
	verifier := cfg.VisionClient(apiKey)

	rl := ledger.New(remote, db, log)

	orchDefaults := orchestrator.DefaultConfig()
	orch := orchestrator.New(orchestrator.Config{
		ConfidenceThreshold: cfg.Orchestrator.ConfidenceThreshold,
		ConfirmationTTL:     parseDuration(cfg.Orchestrator.ConfirmationTTL, orchDefaults.ConfirmationTTL),
		VerifyTimeout:       parseDuration(cfg.Orchestrator.VerifyTimeout, orchDefaults.VerifyTimeout),
	}, verifier, rl, cfg.CooldownPolicy(), dedup.New(dedup.DefaultConfig()), log)

	srv := api.NewServer(orch, rl, log)
	if cfg.API.EnableMetrics {
		srv.EnableMetrics()
	}
	if cfg.API.RateLimitRPS > 0 {
		srv.EnableRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)
	}

	d := &Daemon{
		cfg:    cfg,
		log:    log,
		db:     db,
		remote: remote,
		ledger: rl,
		orch:   orch,
		cron:   cron.New(),
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			Handler: srv.Handler(),
		},
	}

	schedule := cfg.Ledger.ResyncSchedule
	if schedule == "" {
		schedule = DefaultConfig().Ledger.ResyncSchedule
	}
	if _, err := d.cron.AddFunc(schedule, d.resync); err != nil {
		db.Close()
		remote.Close()
		return nil, fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}

	return d, nil
}

// Orchestrator exposes the decision orchestrator (one-shot CLI commands).
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator { return d.orch }

// Ledger exposes the reward ledger (one-shot CLI commands).
func (d *Daemon) Ledger() *ledger.Ledger { return d.ledger }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	d.cron.Start()
	d.log.WithField("addr", d.server.Addr).Info("greenproof listening")

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	d.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.WithError(err).Warn("http shutdown")
	}

	// Final outbox flush before storage closes.
	d.resync()
	d.close()
	return nil
}

// Close releases storage without serving (one-shot CLI commands).
func (d *Daemon) Close() { d.close() }

func (d *Daemon) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if remaining := d.ledger.Resync(ctx); remaining > 0 {
		d.log.WithField("remaining", remaining).Info("outbox partially drained")
	}
}

func (d *Daemon) close() {
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	if err := d.db.Close(); err != nil {
		d.log.WithError(err).Warn("close local ledger")
	}
	if err := d.remote.Close(); err != nil {
		d.log.WithError(err).Warn("close remote store")
	}
}
