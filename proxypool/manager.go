package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/internal/shared/types"
	"openweb_proxy/proxypool/detector"
	"openweb_proxy/proxypool/model"
	"openweb_proxy/proxypool/scraper"
	"openweb_proxy/proxypool/storage"
	"openweb_proxy/proxypool/validator"
)

// ErrNoSurvivors 表示流水线正常结束，但没有任何代理通过全部检查。
var ErrNoSurvivors = errors.New("no proxy survived the pipeline")

// Cleaner is the per-proxy health check stage.
type Cleaner interface {
	Clean(ctx context.Context, candidates *model.ProxySet, maxWorkers int) *model.ProxySet
}

// Detector is the "is this host a known proxy" stage.
type Detector interface {
	Verify(ctx context.Context, candidates *model.ProxySet) (*model.ProxySet, error)
	IsProxy(ctx context.Context, host string) (flagged bool, ok bool, err error)
}

// Manager 是代理池模块的总控制器，串联 抓取 -> 清洗 -> 检测 -> 存储。
type Manager struct {
	protocol   model.Protocol
	maxWorkers int

	aggregator *scraper.Aggregator
	cleaner    Cleaner
	detector   Detector
	storage    storage.Storage

	proxies *model.ProxySet
	mu      sync.RWMutex
}

// NewManager 创建并初始化代理池管理器。
func NewManager(protocol model.Protocol, maxWorkers int, aggregator *scraper.Aggregator, cleaner Cleaner, det Detector, store storage.Storage) *Manager {
	return &Manager{
		protocol:   protocol,
		maxWorkers: maxWorkers,
		aggregator: aggregator,
		cleaner:    cleaner,
		detector:   det,
		storage:    store,
		proxies:    model.NewProxySet(),
	}
}

// NewFromConfig wires every stage from cfg. The returned validator is exposed
// so callers can attach a progress observer.
func NewFromConfig(cfg *types.Config) (*Manager, *validator.Validator, error) {
	protocol, err := model.ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, nil, err
	}

	client := scraper.NewHTTPClient(cfg.Timeout)
	registry := scraper.DefaultRegistry(client, cfg.Timeout)
	if cfg.SourcesConf.File != "" {
		registry, err = scraper.LoadRegistry(cfg.SourcesConf.File, registry, scraper.Scrapers(client, cfg.Timeout))
		if err != nil {
			return nil, nil, err
		}
	}

	v, err := validator.New(cfg.CheckerConf, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}

	var store storage.Storage
	switch cfg.Backend {
	case "redis":
		rs := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey)
		if err := rs.Ping(); err != nil {
			_ = rs.Close()
			return nil, nil, err
		}
		store = rs
	default:
		store = storage.NewFileStorage(cfg.ProxiesFile)
	}

	m := NewManager(
		protocol,
		cfg.MaxWorkers,
		scraper.NewAggregator(registry, client, cfg.Timeout),
		v,
		detector.New(cfg.DetectorConf, cfg.Timeout),
		store,
	)
	return m, v, nil
}

func (m *Manager) Protocol() model.Protocol {
	return m.protocol
}

// Proxies returns a copy of the current set.
func (m *Manager) Proxies() *model.ProxySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.NewProxySet(m.proxies.Endpoints()...)
}

func (m *Manager) setProxies(set *model.ProxySet) {
	if set == nil {
		set = model.NewProxySet()
	}
	m.mu.Lock()
	m.proxies = set
	m.mu.Unlock()
}

// Acquire replaces the current set with a fresh pull from every source.
func (m *Manager) Acquire(ctx context.Context) *model.ProxySet {
	set := m.aggregator.Acquire(ctx, m.protocol)
	m.setProxies(set)
	return set
}

// Load pulls from the sources when web is set, otherwise from storage.
// An empty store is not an error: there is simply nothing to do.
func (m *Manager) Load(ctx context.Context, web bool) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	if web {
		l.Warn().Msg("Will load from Web.")
		return m.Acquire(ctx), nil
	}

	set, err := m.storage.Load(m.protocol)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxies from storage: %w", err)
	}
	if set.Len() == 0 {
		l.Warn().Msg("No proxies in storage. Nothing to do, add --web to pull from the Web.")
	}
	m.setProxies(set)
	return set, nil
}

// Clean keeps the proxies that pass the reachability and application checks.
func (m *Manager) Clean(ctx context.Context) *model.ProxySet {
	set := m.cleaner.Clean(ctx, m.Proxies(), m.maxWorkers)
	m.setProxies(set)
	return set
}

// Verify keeps the proxies whose host is not flagged by the detector. On
// error the current set is left untouched.
func (m *Manager) Verify(ctx context.Context) (*model.ProxySet, error) {
	set, err := m.detector.Verify(ctx, m.Proxies())
	if err != nil {
		return nil, err
	}
	m.setProxies(set)
	return set, nil
}

// Save persists the current set. An empty set is never written.
func (m *Manager) Save() error {
	l := logger.WithComponent("ProxyPool/Manager")
	set := m.Proxies()
	if set.Len() == 0 {
		l.Warn().Msg("Proxy set is empty, keeping the stored list.")
		return nil
	}
	if err := m.storage.Save(set); err != nil {
		return fmt.Errorf("failed to save proxies: %w", err)
	}
	return nil
}

// Random returns a random proxy from the current set.
func (m *Manager) Random() (model.Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxies.Random()
}

func (m *Manager) IsProxy(ctx context.Context, host string) (flagged bool, ok bool, err error) {
	return m.detector.IsProxy(ctx, host)
}

// Run executes one refresh cycle: load -> clean -> verify -> save.
func (m *Manager) Run(ctx context.Context, web bool) (*model.ProxySet, error) {
	l := runLogger()
	l.Info().Str("protocol", m.protocol.String()).Bool("web", web).Msg("Starting refresh cycle...")

	loaded, err := m.Load(ctx, web)
	if err != nil {
		return nil, err
	}
	if loaded.Len() == 0 {
		return loaded, ErrNoSurvivors
	}

	cleaned := m.Clean(ctx)
	l.Info().Int("loaded", loaded.Len()).Int("clean", cleaned.Len()).Msg("Clean stage finished.")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cleaned.Len() == 0 {
		return cleaned, ErrNoSurvivors
	}

	working, err := m.Verify(ctx)
	if err != nil {
		return nil, err
	}
	l.Info().Int("clean", cleaned.Len()).Int("working", working.Len()).Msg("Verify stage finished.")
	if working.Len() == 0 {
		return working, ErrNoSurvivors
	}

	if err := m.Save(); err != nil {
		return working, err
	}
	l.Info().Int("count", working.Len()).Msg("Refresh cycle finished.")
	return working, nil
}

func runLogger() zerolog.Logger {
	return logger.WithComponent("ProxyPool/Manager").With().Str("run_id", uuid.NewString()).Logger()
}
