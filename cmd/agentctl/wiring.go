package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/agentic-fabric/pkg/agent"
	"github.com/cuemby/agentic-fabric/pkg/config"
	"github.com/cuemby/agentic-fabric/pkg/dispatcher"
	"github.com/cuemby/agentic-fabric/pkg/health"
	"github.com/cuemby/agentic-fabric/pkg/persistence"
	"github.com/cuemby/agentic-fabric/pkg/ragagent"
	"github.com/cuemby/agentic-fabric/pkg/registry"
	"github.com/cuemby/agentic-fabric/pkg/storage"
	"github.com/cuemby/agentic-fabric/pkg/stream"
	"github.com/cuemby/agentic-fabric/pkg/types"
	"github.com/cuemby/agentic-fabric/pkg/worker"
	"github.com/cuemby/agentic-fabric/pkg/writeagent"
)

// domainRAG and domainPersist are the two stream domains agentctl wires by
// default; a deployment adding more flows would register them on these
// same domains or introduce new ones alongside.
const (
	domainRAG     = "rag"
	domainPersist = "persist"

	flowRetrieve = "retrieve_leads"
	flowWrite    = "write_lead"
)

// fabric holds every long-lived component main's subcommands need, built
// once from a loaded Config.
type fabric struct {
	cfg *config.Config

	rdb *redis.Client
	sc  *stream.Client

	svc    *persistence.Service
	facade *persistence.ReadOnlyFacade
	store  storage.Store

	reg  *registry.Registry
	disp *dispatcher.Dispatcher
}

// buildRedis constructs a *redis.Client from the Redis config section,
// preferring a full URL when given over the discrete host/port fields.
func buildRedis(cfg config.Redis) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		DB:       cfg.DB,
		Password: cfg.Password,
	}), nil
}

// buildFabric wires every component from cfg: the Redis-backed stream
// client, the persistence adapter/service/facade trio, the flow
// registry with the default rag/persist flows registered, and the
// per-agent dispatcher. dataDir, when non-empty, switches persistence
// from pure in-memory to a BoltDB-backed durable store.
func buildFabric(cfg *config.Config, dataDir string) (*fabric, error) {
	rdb, err := buildRedis(cfg.Redis)
	if err != nil {
		return nil, err
	}
	sc := stream.New(rdb, cfg.Redis.Namespace)

	var store storage.Store
	var adapter persistence.Adapter
	if dataDir != "" {
		bolt, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		mem, err := persistence.NewDurableInMemory(bolt, cfg.Persist.ReadTables)
		if err != nil {
			return nil, fmt.Errorf("load durable store: %w", err)
		}
		store = bolt
		adapter = mem
	} else {
		adapter = persistence.NewInMemory()
	}

	allowlist := types.NewAllowlist(cfg.Persist.ReadTables, cfg.Persist.WriteTables)
	if err := allowlist.Validate(); err != nil {
		return nil, fmt.Errorf("persistence allowlist: %w", err)
	}
	svc := persistence.NewService(adapter, allowlist)
	// The facade gets its own Service with an empty write allowlist, which
	// NewReadOnlyFacade requires.
	readSvc := persistence.NewService(adapter, types.NewAllowlist(cfg.Persist.ReadTables, nil))
	facade := persistence.NewReadOnlyFacade(readSvc)

	reg := registry.New(sc, cfg.Redis.StreamMaxLen)
	registerDefaultFlows(reg, cfg, svc, facade)

	disp := dispatcher.New(map[string]int{
		flowRetrieve: 8,
		flowWrite:    4,
	})

	return &fabric{
		cfg: cfg, rdb: rdb, sc: sc,
		svc: svc, facade: facade, store: store,
		reg: reg, disp: disp,
	}, nil
}

// registerDefaultFlows binds the fabric's two built-in flows: retrieving
// leads (rag domain, read-only) and writing a lead (persist domain,
// full write access). A deployment with more tables or flows would add
// Register calls alongside these, not replace them.
func registerDefaultFlows(reg *registry.Registry, cfg *config.Config, svc *persistence.Service, facade *persistence.ReadOnlyFacade) {
	ragCfg := ragagent.Config{
		Table:                    "leads",
		DefaultLimit:             cfg.RAG.DefaultLimit,
		MaxLimit:                 cfg.RAG.MaxLimit,
		SummaryThreshold:         cfg.RAG.SummaryThreshold,
		MaxFallbacksPerMin:       cfg.RAG.MaxFallbacksPerMin,
		ReformulationMaxAttempts: cfg.RAG.ReformulationMaxAttempts,
		CacheDisabled:            cfg.RAG.CacheDisabled,
		DefaultListOnEmpty:       cfg.RAG.DefaultListOnEmpty,
	}
	reg.Register(flowRetrieve, domainRAG, func() agent.Agent {
		return ragagent.New(facade, ragCfg, nil)
	})

	reg.Register(flowWrite, domainPersist, func() agent.Agent {
		return writeagent.New(svc)
	})
}

func (f *fabric) close() {
	if f.store != nil {
		_ = f.store.Close()
	}
	_ = f.sc.Close()
}

// pendingAdapter satisfies health.PendingStatser by discarding the
// LowestID/HighestID fields of stream.Client.Pending's richer result.
type pendingAdapter struct{ sc *stream.Client }

func (p pendingAdapter) Pending(ctx context.Context, streamName, group string) (int64, error) {
	stats, err := p.sc.Pending(ctx, streamName, group)
	if err != nil {
		return 0, err
	}
	return stats.Count, nil
}

// buildHealthServer registers connectivity, backlog, and heartbeat
// checkers for both domains.
func buildHealthServer(f *fabric, consumerName string) *health.Server {
	srv := health.NewServer()
	srv.Register("redis", health.NewTCPChecker(f.rdb.Options().Addr))

	pa := pendingAdapter{f.sc}
	srv.Register(domainRAG+"-backlog", health.NewStreamChecker(pa, stream.TaskStream(domainRAG), stream.WorkerGroup(domainRAG)))
	srv.Register(domainPersist+"-backlog", health.NewStreamChecker(pa, stream.TaskStream(domainPersist), stream.WorkerGroup(domainPersist)))

	if f.cfg.Ops.HeartbeatEnabled {
		srv.Register(domainRAG+"-heartbeat", health.NewHeartbeatChecker(f.sc, stream.HeartbeatKey(domainRAG, consumerName)))
		srv.Register(domainPersist+"-heartbeat", health.NewHeartbeatChecker(f.sc, stream.HeartbeatKey(domainPersist, consumerName)))
	}
	return srv
}

// newWorkers builds one Runtime per domain from cfg's ops tuning.
func newWorkers(f *fabric, consumerName string) []*worker.Runtime {
	base := worker.Config{
		ConsumerName:      consumerName,
		MaxRetries:        f.cfg.Redis.MaxRetries,
		RetryBackoff:      f.cfg.Redis.RetryBackoff,
		EnableDLQ:         f.cfg.Redis.EnableDLQ,
		IdempotencyTTL:    f.cfg.Ops.IdempotencyTTL,
		HeartbeatEnabled:  f.cfg.Ops.HeartbeatEnabled,
		HeartbeatTTL:      f.cfg.Ops.HeartbeatTTL,
		HeartbeatInterval: f.cfg.Ops.HeartbeatInterval,
		StreamMaxLen:      f.cfg.Redis.StreamMaxLen,
	}

	ragWorkerCfg := base
	ragWorkerCfg.Domain = domainRAG
	persistWorkerCfg := base
	persistWorkerCfg.Domain = domainPersist

	return []*worker.Runtime{
		worker.New(f.sc, f.reg, f.disp, ragWorkerCfg),
		worker.New(f.sc, f.reg, f.disp, persistWorkerCfg),
	}
}
