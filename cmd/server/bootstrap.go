package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/api"
	"github.com/charlesng35/pbxnotify/internal/app"
	"github.com/charlesng35/pbxnotify/internal/app/maintenance"
	iauth "github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/cache"
	"github.com/charlesng35/pbxnotify/internal/channels"
	"github.com/charlesng35/pbxnotify/internal/database"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
	"github.com/charlesng35/pbxnotify/internal/monitoring/checks"
	"github.com/charlesng35/pbxnotify/internal/permissions"
	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/mail"
	"github.com/charlesng35/pbxnotify/pkg/push"
	"github.com/charlesng35/pbxnotify/pkg/sms"
)

const (
	checkTimeout     = 3 * time.Second
	maintenanceStale = 10 * time.Minute
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisClient
	Store     cache.Store
	Push      push.Publisher
	Jobs      *monitoring.JobTracker
	Runner    *maintenance.Runner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, cache, delivery engine, background jobs and HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store = cache.NewDatabaseStore(stack.DB)
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Store = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	checker, err := permissions.NewChecker(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise permission checker: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	directory, err := services.NewDatabaseDirectory(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise directory: %w", err)
	}

	resolver, err := services.NewTargetResolver(directory)
	if err != nil {
		return nil, fmt.Errorf("initialise target resolver: %w", err)
	}

	preferenceSvc, err := services.NewPreferenceService(stack.DB, auditSvc, checker)
	if err != nil {
		return nil, fmt.Errorf("initialise preference service: %w", err)
	}

	ledger, err := services.NewDeliveryLedger(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise delivery ledger: %w", err)
	}

	var registry *channels.Registry
	registry, stack.Push, err = buildChannelRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	dispatchCfg := cfg.Notifications.Dispatch
	dispatcher, err := services.NewChannelDispatcher(stack.DB, directory, registry, services.DispatchConfig{
		BatchSize:   dispatchCfg.BatchSize,
		MaxAttempts: dispatchCfg.MaxAttempts,
		BaseBackoff: dispatchCfg.BaseBackoff,
		MaxBackoff:  dispatchCfg.MaxBackoff,
		Lease:       dispatchCfg.Lease,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise channel dispatcher: %w", err)
	}

	fanout, err := services.NewFanOutService(resolver, preferenceSvc, ledger, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise fan-out: %w", err)
	}

	promotion, err := services.NewPromotionService(stack.DB, fanout, cfg.Notifications.Promotion.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("initialise promotion service: %w", err)
	}

	templateSvc, err := services.NewTemplateService(stack.DB, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise template service: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(stack.DB, templateSvc, promotion, ledger, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	liveness, err := iauth.NewLivenessStore(stack.Store, cfg.Notifications.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise liveness store: %w", err)
	}

	polling, err := services.NewPollingService(ledger, preferenceSvc, liveness, cfg.Notifications.HeartbeatRecent)
	if err != nil {
		return nil, fmt.Errorf("initialise polling service: %w", err)
	}

	stack.Jobs = monitoring.NewJobTracker()
	health := monitoring.NewHealthManager(stack.Jobs)
	health.RegisterReadiness(checks.Database(stack.DB, checkTimeout))
	health.RegisterReadiness(checks.Cache(stack.Store, checkTimeout))
	health.RegisterReadiness(checks.Maintenance(stack.Jobs, maintenanceStale, maintenance.JobAudit, maintenance.JobPurge))

	opts := []maintenance.Option{
		maintenance.WithDispatcher(dispatcher),
		maintenance.WithAuditPruner(auditSvc, cfg.Notifications.AuditRetention),
		maintenance.WithPromotionSchedule(cfg.Notifications.Promotion.Schedule),
		maintenance.WithDispatchSchedule(dispatchCfg.Schedule),
		maintenance.WithPurgeSchedule(cfg.Notifications.CachePurgeSpec),
		maintenance.WithAuditSchedule(cfg.Notifications.AuditSchedule),
		maintenance.WithRecorder(stack.Jobs),
	}
	if purger, ok := stack.Store.(cache.Purger); ok {
		opts = append(opts, maintenance.WithCachePurger(purger))
	}

	stack.Runner = maintenance.NewRunner(promotion, opts...)
	if err := stack.Runner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if cfg.Notifications.RateLimit.Enabled {
		stack.RateStore = middleware.NewCacheRateStore(stack.Store)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		JWT:           jwtSvc,
		Checker:       checker,
		Polling:       polling,
		Notifications: notificationSvc,
		Preferences:   preferenceSvc,
		Templates:     templateSvc,
		Audit:         auditSvc,
		Health:        health,
		RateStore:     stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildChannelRegistry registers a sender for every enabled out-of-band
// channel. Deliveries on channels without a sender fail permanently.
func buildChannelRegistry(cfg *app.Config, log *zap.Logger) (*channels.Registry, push.Publisher, error) {
	var senders []channels.Sender

	if emailCfg := cfg.Channels.Email; emailCfg.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(emailCfg.SMTPSettings())
		if err != nil {
			return nil, nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		sender, err := channels.NewEmailSender(mailer)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, sender)
	}

	if smsCfg := cfg.Channels.SMS; smsCfg.Twilio.Enabled {
		client, err := sms.NewTwilioSender(smsCfg.TwilioSettings())
		if err != nil {
			return nil, nil, fmt.Errorf("initialise twilio sender: %w", err)
		}
		sender, err := channels.NewSMSSender(client, smsCfg.Twilio.DefaultRegion)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, sender)
	}

	var publisher push.Publisher
	if pushCfg := cfg.Channels.Push; pushCfg.Kafka.Enabled {
		var err error
		publisher, err = push.NewKafkaPublisher(pushCfg.KafkaSettings())
		if err != nil {
			return nil, nil, fmt.Errorf("initialise kafka publisher: %w", err)
		}
		sender, err := channels.NewPushSender(publisher)
		if err != nil {
			_ = publisher.Close()
			return nil, nil, err
		}
		senders = append(senders, sender)
	}

	registry := channels.NewRegistry(senders...)
	names := make([]string, 0, len(senders))
	for _, ch := range registry.Channels() {
		names = append(names, string(ch))
	}
	log.Info("delivery channels configured", zap.Strings("channels", names))

	return registry, publisher, nil
}

// Shutdown stops background jobs, drains the last sweep and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Runner != nil {
		stopCtx := s.Runner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs did not stop before shutdown deadline")
		}
	}

	var errs error
	if s.Push != nil {
		errs = multierr.Append(errs, s.Push.Close())
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if errs != nil {
		log.Warn("release runtime resources", zap.Error(errs))
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseClientConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
