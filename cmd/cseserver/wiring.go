package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/internal/acp"
	"github.com/onem2m-cse/cse/internal/actioneval"
	"github.com/onem2m-cse/cse/internal/announce"
	"github.com/onem2m-cse/cse/internal/cseconfig"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/group"
	"github.com/onem2m-cse/cse/internal/notify"
	"github.com/onem2m-cse/cse/internal/policy"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/resource/rilock"
	"github.com/onem2m-cse/cse/internal/scheduler"
	"github.com/onem2m-cse/cse/internal/store"
	"github.com/onem2m-cse/cse/internal/store/cache"
	"github.com/onem2m-cse/cse/internal/store/cachedstore"
	"github.com/onem2m-cse/cse/internal/store/memstore"
	"github.com/onem2m-cse/cse/internal/store/sqlstore"
	"github.com/onem2m-cse/cse/internal/uppertester"
)

// app holds every constructed collaborator cmd/cseserver wires transports
// onto, plus the handles needed for a clean shutdown.
type app struct {
	cfg        *cseconfig.CSEConfig
	log        *logging.Logger
	metrics    *metrics.Metrics
	store      store.Store
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	scheduler  *scheduler.Scheduler
	tester     *uppertester.Tester
	announcer  *announce.Announcer
	fanout     *group.Fanout
	cseBaseRI  string

	closers []func() error
}

// Close drains every closer accumulated while building the store (database
// handle, optional Redis client), logging but not failing on individual
// errors so shutdown always runs to completion.
func (a *app) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("error closing resource during shutdown")
		}
	}
}

// buildApp constructs the full dependency graph described in DESIGN.md's
// cmd/cseserver entry, following the teacher's cmd/marble/main.go shape:
// load config, build shared collaborators bottom-up, bootstrap persisted
// state, then hand back an app ready for transports to mount.
func buildApp(ctx context.Context, cfg *cseconfig.CSEConfig) (*app, error) {
	log := logging.New("cse", cfg.Logging.Level, cfg.Logging.Format)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewWithRegistry(cfg.Metrics.ServiceName, prometheus.DefaultRegisterer)
	} else {
		m = metrics.NewWithRegistry(cfg.Metrics.ServiceName, prometheus.NewRegistry())
	}

	st, closers, err := buildStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	cseBaseRI, err := bootstrapCSEBase(ctx, st, &cfg.Identity)
	if err != nil {
		return nil, err
	}

	behaviors := resource.NewRegistry()
	validator := policy.NewValidator(policy.NewRegistry())
	acpEval := acp.NewEvaluator(store.Lookup{Store: st})
	bus := eventbus.New()
	locks := rilock.New(0)

	d := dispatch.New(st, validator, behaviors, acpEval, bus, locks, log, m, cseBaseRI, cfg.Identity.MaxRequestHistory)
	adapter := dispatchAdapter{d: d}

	sender := notify.NewHTTPSender(cfg.Notify.HTTPTimeout)
	crs := notify.NewCRSTracker()
	notifier := notify.New(st, sender, log, m, crs)
	bus.Subscribe(notifier.HandleEvent)
	d.Verifier = notifier
	d.CRSRegistrar = crsRegistrarAdapter{tracker: crs}

	resolver := endpointResolver{endpoints: cfg.Announce.RemoteEndpoints}
	remote := announce.NewHTTPRemoteClient(resolver, cfg.Announce.HTTPTimeout)
	announcer := announce.New(st, policy.NewRegistry(), remote, log)
	bus.Subscribe(announceEventHandler(announcer))

	fanout := group.New(st, adapter)

	evaluator := actioneval.New(st, actionDispatcher{a: adapter}, "CAdmin", log)
	sched := scheduler.New(st, notifier, sender, evaluator, bus, log, m)
	sched.StartResourceExpirySweep(cfg.Scheduler.ResourceExpirySweep)
	sched.StartActionEvaluation(cfg.Scheduler.ActionEvaluation)
	sched.StartBatchFlush(cseBaseRI, cfg.Scheduler.BatchFlushCheck, cfg.Scheduler.BatchFlushCheck)
	sched.StartHostStatistics(cfg.Scheduler.HostStatistics)

	var tester *uppertester.Tester
	if cfg.Server.EnableUpperTester {
		tester = uppertester.New(st, cseBaseRI, log)
	}

	return &app{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		store:      st,
		dispatcher: d,
		notifier:   notifier,
		scheduler:  sched,
		tester:     tester,
		announcer:  announcer,
		fanout:     fanout,
		cseBaseRI:  cseBaseRI,
		closers:    closers,
	}, nil
}

// buildStore constructs the configured backend: memstore for local/dev use
// (DatabaseConfig.Driver == "memory") or sqlstore over PostgreSQL,
// optionally wrapped in cachedstore when CacheConfig.Addr is set. Returns
// the close callbacks the caller must run on shutdown, in the teacher's
// "collect closers, run them on the way out" style.
func buildStore(ctx context.Context, cfg *cseconfig.CSEConfig, log *logging.Logger) (store.Store, []func() error, error) {
	if cfg.Database.Driver == "memory" {
		return memstore.New(), nil, nil
	}

	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}
	db, err := sqlstore.Open(ctx, dsn, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, time.Duration(cfg.Database.ConnMaxLifetime)*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlstore: %w", err)
	}
	closers := []func() error{db.Close}

	if cfg.Database.MigrateOnStart {
		if err := runMigrations(db, cfg.Database.MigrationsPath, log); err != nil {
			return nil, closers, err
		}
	}

	backing := sqlstore.New(db)
	var st store.Store = backing

	if cfg.Cache.Addr != "" {
		c, err := cache.Open(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
		if err != nil {
			log.WithError(err).Warn("redis cache unavailable, continuing without acceleration")
		} else {
			closers = append(closers, c.Close)
			st = cachedstore.New(backing, c)
		}
	}
	return st, closers, nil
}
