package validator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/internal/shared/types"
	"openweb_proxy/proxypool/model"
)

// Checker is a single health check against one proxy.
type Checker interface {
	Check(ctx context.Context, e model.Endpoint) error
}

// Observer 接收清洗过程中的进度事件。
type Observer interface {
	Start(total int)
	Checked(e model.Endpoint, err error)
	Finish(survivors int)
}

type noopObserver struct{}

func (noopObserver) Start(int)                     {}
func (noopObserver) Checked(model.Endpoint, error) {}
func (noopObserver) Finish(int)                    {}

type result struct {
	endpoint model.Endpoint
	err      error
}

// Validator runs the reachability and application checks over a candidate
// set with a bounded number of concurrent workers.
type Validator struct {
	reachability Checker
	application  Checker
	bannedSource string
	client       *http.Client
	observer     Observer

	mu     sync.Mutex
	banned BannedList
}

// New builds a Validator from the checker section of the config.
func New(cfg types.CheckerConf, timeout time.Duration) (*Validator, error) {
	app, err := NewApplicationChecker(cfg.CheckURL, timeout)
	if err != nil {
		return nil, err
	}
	return NewWithCheckers(
		NewReachabilityChecker(cfg.ReachabilityTarget, timeout),
		app,
		cfg.BannedSource,
		&http.Client{Timeout: timeout * 2},
	), nil
}

// NewWithCheckers wires arbitrary checkers; tests use it to stub the network.
func NewWithCheckers(reachability, application Checker, bannedSource string, client *http.Client) *Validator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Validator{
		reachability: reachability,
		application:  application,
		bannedSource: bannedSource,
		client:       client,
		observer:     noopObserver{},
	}
}

// SetObserver replaces the progress observer; nil restores the no-op one.
func (v *Validator) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	v.observer = o
}

// RefreshBanned reloads the banned list from its source.
func (v *Validator) RefreshBanned(ctx context.Context) BannedList {
	list := LoadBanned(ctx, v.client, v.bannedSource)
	v.mu.Lock()
	v.banned = list
	v.mu.Unlock()
	return list
}

// Banned returns the cached banned list, loading it on first use.
func (v *Validator) Banned(ctx context.Context) BannedList {
	v.mu.Lock()
	list := v.banned
	v.mu.Unlock()
	if list != nil {
		return list
	}
	return v.RefreshBanned(ctx)
}

// Check runs the reachability check and, only if it passes, the application check.
func (v *Validator) Check(ctx context.Context, e model.Endpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CheckError{Kind: FailureRequest, Stage: "check", Endpoint: e, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := v.reachability.Check(ctx, e); err != nil {
		return err
	}
	return v.application.Check(ctx, e)
}

// Clean 并发检查候选代理，返回通过全部检查且不在禁用列表中的代理。
func (v *Validator) Clean(ctx context.Context, candidates *model.ProxySet, maxWorkers int) *model.ProxySet {
	l := logger.WithComponent("ProxyPool/Validator")
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	survivors := model.NewProxySet()
	endpoints := candidates.Endpoints()
	if len(endpoints) == 0 {
		v.observer.Start(0)
		v.observer.Finish(0)
		return survivors
	}

	banned := v.Banned(ctx)
	l.Info().Int("count", len(endpoints)).Int("max_workers", maxWorkers).Msg("Starting validation batch...")
	v.observer.Start(len(endpoints))

	sem := semaphore.NewWeighted(int64(maxWorkers))
	results := make(chan result, len(endpoints))

	go func() {
		var wg sync.WaitGroup
		defer close(results)
		for _, e := range endpoints {
			// A slot is held before the goroutine exists.
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(e model.Endpoint) {
				defer wg.Done()
				defer sem.Release(1)
				results <- result{endpoint: e, err: v.Check(ctx, e)}
			}(e)
		}
		wg.Wait()
	}()

	failures := make(map[FailureKind]int)
	for r := range results {
		err := r.err
		if err == nil && banned.Contains(r.endpoint.Host) {
			err = &CheckError{Kind: FailureBanned, Stage: "banned", Endpoint: r.endpoint}
		}
		if err != nil {
			failures[classify(err)]++
			l.Debug().Err(err).Str("proxy", r.endpoint.String()).Msg("Proxy rejected.")
		} else {
			survivors.Add(r.endpoint)
		}
		v.observer.Checked(r.endpoint, err)
	}

	v.observer.Finish(survivors.Len())
	l.Info().
		Int("checked", len(endpoints)).
		Int("survivors", survivors.Len()).
		Interface("failures", failures).
		Msg("Validation batch finished.")
	return survivors
}
