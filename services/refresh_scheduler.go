package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// PortfolioFetcher produces portfolio snapshots
type PortfolioFetcher interface {
	FetchPortfolio(ctx context.Context) (*interfaces.PortfolioSnapshot, error)
}

// ChainFetcher produces option chain snapshots
type ChainFetcher interface {
	FetchChain(ctx context.Context, ticker, expiration string) (*interfaces.OptionChainSnapshot, error)
}

// ConnectionProbe reports whether a live session exists
type ConnectionProbe interface {
	IsConnected() bool
}

// SnapshotListener is notified after each successful refresh
type SnapshotListener interface {
	OnPortfolio(snapshot *interfaces.PortfolioSnapshot)
	OnChain(key interfaces.ChainKey, snapshot *interfaces.OptionChainSnapshot)
}

// SchedulerConfig holds the refresh cadence
type SchedulerConfig struct {
	PortfolioInterval time.Duration
	ChainInterval     time.Duration
	MaxChainLoops     int // 0 means unbounded
}

// DefaultSchedulerConfig returns 15s portfolio and 5s chain refreshes
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PortfolioInterval: 15 * time.Second,
		ChainInterval:     5 * time.Second,
		MaxChainLoops:     8,
	}
}

// chainLoop is the registry entry that owns one chain key
type chainLoop struct {
	id            string
	cancel        context.CancelFunc
	startedAt     time.Time
	lastRequested time.Time
}

// ChainLoopInfo describes a running chain loop
type ChainLoopInfo struct {
	Key           interfaces.ChainKey `json:"-"`
	ID            string              `json:"id"`
	Ticker        string              `json:"ticker"`
	Expiration    string              `json:"expiration"`
	StartedAt     time.Time           `json:"started_at"`
	LastRequested time.Time           `json:"last_requested"`
}

// RefreshScheduler keeps the snapshot cache warm. It runs one portfolio loop
// and one loop per requested chain key. Only the registered owner of a key
// may write that key's cache slot.
type RefreshScheduler struct {
	conn      ConnectionProbe
	portfolio PortfolioFetcher
	chains    ChainFetcher
	cache     *SnapshotCache
	config    SchedulerConfig

	listeners []SnapshotListener

	mu               sync.Mutex
	portfolioRunning bool
	loops            map[interfaces.ChainKey]*chainLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Logger
}

// NewRefreshScheduler creates a stopped-until-used scheduler
func NewRefreshScheduler(
	conn ConnectionProbe,
	portfolio PortfolioFetcher,
	chains ChainFetcher,
	cache *SnapshotCache,
	config SchedulerConfig,
	logger *logrus.Logger,
) *RefreshScheduler {
	defaults := DefaultSchedulerConfig()
	if config.PortfolioInterval <= 0 {
		config.PortfolioInterval = defaults.PortfolioInterval
	}
	if config.ChainInterval <= 0 {
		config.ChainInterval = defaults.ChainInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RefreshScheduler{
		conn:      conn,
		portfolio: portfolio,
		chains:    chains,
		cache:     cache,
		config:    config,
		loops:     make(map[interfaces.ChainKey]*chainLoop),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.OrDefault(logger),
	}
}

// AddListener registers l for refresh notifications. Call before loops start.
func (rs *RefreshScheduler) AddListener(l SnapshotListener) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.listeners = append(rs.listeners, l)
}

// EnsurePortfolioLoop starts the portfolio loop unless it is already running
func (rs *RefreshScheduler) EnsurePortfolioLoop() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.portfolioRunning || rs.ctx.Err() != nil {
		return false
	}
	rs.portfolioRunning = true
	rs.wg.Add(1)
	go rs.runPortfolioLoop(rs.ctx)
	return true
}

func (rs *RefreshScheduler) runPortfolioLoop(ctx context.Context) {
	defer rs.wg.Done()
	defer func() {
		rs.mu.Lock()
		rs.portfolioRunning = false
		rs.mu.Unlock()
	}()

	ticker := time.NewTicker(rs.config.PortfolioInterval)
	defer ticker.Stop()

	rs.logger.WithField("interval", rs.config.PortfolioInterval).Info("Portfolio refresh started")

	rs.refreshPortfolio(ctx)
	for {
		select {
		case <-ctx.Done():
			rs.logger.Info("Portfolio refresh stopped")
			return
		case <-ticker.C:
			rs.refreshPortfolio(ctx)
		}
	}
}

func (rs *RefreshScheduler) refreshPortfolio(ctx context.Context) {
	if !rs.conn.IsConnected() {
		rs.logger.Debug("Skipping portfolio refresh, not connected")
		return
	}

	snapshot, err := rs.portfolio.FetchPortfolio(ctx)
	if err != nil {
		if ctx.Err() == nil {
			rs.logger.WithError(err).Error("Error updating portfolio data")
		}
		return
	}

	rs.cache.SetPortfolio(snapshot)
	for _, l := range rs.snapshotListeners() {
		l.OnPortfolio(snapshot)
	}
}

// EnsureChainLoop starts a loop for key unless one is registered, and marks the key
// as recently requested. When MaxChainLoops is reached the least recently requested
// loop is cancelled first. It reports whether a new loop was started.
func (rs *RefreshScheduler) EnsureChainLoop(key interfaces.ChainKey) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ctx.Err() != nil {
		return false
	}
	if loop, ok := rs.loops[key]; ok {
		loop.lastRequested = time.Now()
		return false
	}

	if rs.config.MaxChainLoops > 0 && len(rs.loops) >= rs.config.MaxChainLoops {
		rs.evictOldestLocked()
	}
	rs.startChainLoopLocked(key)
	return true
}

// RestartChainLoop cancels the loop registered for key, if any, and starts a new owner
func (rs *RefreshScheduler) RestartChainLoop(key interfaces.ChainKey) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ctx.Err() != nil {
		return ""
	}
	if loop, ok := rs.loops[key]; ok {
		loop.cancel()
		delete(rs.loops, key)
	}
	return rs.startChainLoopLocked(key).id
}

// StopChainLoop cancels the loop registered for key
func (rs *RefreshScheduler) StopChainLoop(key interfaces.ChainKey) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	loop, ok := rs.loops[key]
	if !ok {
		return false
	}
	loop.cancel()
	delete(rs.loops, key)
	return true
}

// ChainLoops lists the registered chain loops sorted by key
func (rs *RefreshScheduler) ChainLoops() []ChainLoopInfo {
	rs.mu.Lock()
	keys := make([]interfaces.ChainKey, 0, len(rs.loops))
	infos := make(map[interfaces.ChainKey]ChainLoopInfo, len(rs.loops))
	for key, loop := range rs.loops {
		keys = append(keys, key)
		infos[key] = ChainLoopInfo{
			Key:           key,
			ID:            loop.id,
			Ticker:        key.Ticker,
			Expiration:    key.Expiration,
			StartedAt:     loop.startedAt,
			LastRequested: loop.lastRequested,
		}
	}
	rs.mu.Unlock()

	sortChainKeys(keys)
	out := make([]ChainLoopInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, infos[key])
	}
	return out
}

func (rs *RefreshScheduler) startChainLoopLocked(key interfaces.ChainKey) *chainLoop {
	ctx, cancel := context.WithCancel(rs.ctx)
	now := time.Now()
	loop := &chainLoop{
		id:            uuid.NewString(),
		cancel:        cancel,
		startedAt:     now,
		lastRequested: now,
	}
	rs.loops[key] = loop

	rs.wg.Add(1)
	go rs.runChainLoop(ctx, key, loop.id)
	return loop
}

func (rs *RefreshScheduler) evictOldestLocked() {
	var oldestKey interfaces.ChainKey
	var oldest *chainLoop
	for key, loop := range rs.loops {
		if oldest == nil || loop.lastRequested.Before(oldest.lastRequested) {
			oldestKey, oldest = key, loop
		}
	}
	if oldest == nil {
		return
	}
	oldest.cancel()
	delete(rs.loops, oldestKey)
	rs.logger.WithField("key", oldestKey.String()).Info("Evicted least recently requested option refresh")
}

func (rs *RefreshScheduler) runChainLoop(ctx context.Context, key interfaces.ChainKey, id string) {
	defer rs.wg.Done()
	defer rs.release(key, id)

	log := rs.logger.WithFields(logrus.Fields{
		"key":     key.String(),
		"loop_id": id,
	})
	log.Info("Option refresh started")

	ticker := time.NewTicker(rs.config.ChainInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || !rs.owns(key, id) {
			log.Info("Option refresh stopped")
			return
		}

		rs.refreshChain(ctx, key, id, log)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (rs *RefreshScheduler) refreshChain(ctx context.Context, key interfaces.ChainKey, id string, log *logrus.Entry) {
	if !rs.conn.IsConnected() {
		return
	}

	snapshot, err := rs.chains.FetchChain(ctx, key.Ticker, key.Expiration)
	if err != nil {
		if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			log.WithError(err).Error("Error updating options data")
		}
		return
	}
	if snapshot == nil || len(snapshot.Calls) == 0 || len(snapshot.Puts) == 0 {
		log.Debug("Discarding empty option chain")
		return
	}

	if !rs.publishChain(key, id, snapshot) {
		log.Debug("Dropped chain from superseded loop")
		return
	}
	for _, l := range rs.snapshotListeners() {
		l.OnChain(key, snapshot)
	}
}

// publishChain writes snapshot only while id still owns key
func (rs *RefreshScheduler) publishChain(key interfaces.ChainKey, id string, snapshot *interfaces.OptionChainSnapshot) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	loop, ok := rs.loops[key]
	if !ok || loop.id != id {
		return false
	}
	rs.cache.SetChain(key, snapshot)
	return true
}

func (rs *RefreshScheduler) owns(key interfaces.ChainKey, id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	loop, ok := rs.loops[key]
	return ok && loop.id == id
}

// release removes the registry entry if id is still its owner
func (rs *RefreshScheduler) release(key interfaces.ChainKey, id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if loop, ok := rs.loops[key]; ok && loop.id == id {
		loop.cancel()
		delete(rs.loops, key)
	}
}

func (rs *RefreshScheduler) snapshotListeners() []SnapshotListener {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return append([]SnapshotListener(nil), rs.listeners...)
}

// Stop cancels every loop and waits for them to exit
func (rs *RefreshScheduler) Stop() {
	rs.cancel()
	rs.wg.Wait()
	rs.logger.Info("Refresh scheduler stopped")
}
