package scheduler

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHost используется, если хост не задан
	DefaultHost = "8.8.8.8"
	// MinIntervalFloor - минимальная пауза между пробами
	MinIntervalFloor = time.Second
	// MaxIntervalCeiling - максимальная пауза между пробами
	MaxIntervalCeiling = 24 * time.Hour
)

// State - состояние планировщика
type State int

const (
	// StateIdle - конфигурации нет, таймер не взведен
	StateIdle State = iota
	// StateArmed - таймер взведен или проба выполняется
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// PingConfig содержит параметры проб. Интервалы в секундах.
type PingConfig struct {
	Host        string  `json:"host"`
	Count       int     `json:"count"`
	MinInterval float64 `json:"minInterval"`
	MaxInterval float64 `json:"maxInterval"`
}

// Normalize применяет значения по умолчанию и исправляет границы
func (c PingConfig) Normalize() PingConfig {
	return c.normalize(MinIntervalFloor)
}

func (c PingConfig) normalize(floor time.Duration) PingConfig {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Count < 1 {
		c.Count = 1
	}
	ceiling := MaxIntervalCeiling.Seconds()
	c.MinInterval = math.Min(c.MinInterval, ceiling)
	c.MaxInterval = math.Min(c.MaxInterval, ceiling)
	if c.MinInterval > c.MaxInterval {
		c.MinInterval, c.MaxInterval = c.MaxInterval, c.MinInterval
	}
	if f := floor.Seconds(); c.MinInterval < f {
		c.MinInterval = f
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	return c
}

// NextDelay возвращает паузу min + r*(max-min) для r из [0, 1]
func NextDelay(cfg PingConfig, r float64) time.Duration {
	seconds := cfg.MinInterval + r*(cfg.MaxInterval-cfg.MinInterval)
	d := time.Duration(math.Min(seconds, MaxIntervalCeiling.Seconds()) * float64(time.Second))
	if d < 0 {
		return 0
	}
	return d
}

// ProbeFunc выполняет одну пробу. Ошибки обрабатываются внутри.
type ProbeFunc func(ctx context.Context, cfg PingConfig)

// Scheduler запускает пробы со случайной паузой между ними.
// После каждой пробы таймер взводится заново с той же конфигурацией.
type Scheduler struct {
	probe  ProbeFunc
	logger *zap.Logger
	rnd    func() float64
	floor  time.Duration

	mu     sync.Mutex
	state  State
	cfg    PingConfig
	timer  *time.Timer
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	// runMu не дает двум пробам выполняться одновременно
	runMu sync.Mutex
	wg    sync.WaitGroup
}

// New создает планировщик в состоянии Idle
func New(probe ProbeFunc, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		probe:  probe,
		logger: logger,
		rnd:    rand.Float64,
		floor:  MinIntervalFloor,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Configure заменяет конфигурацию, сбрасывает ожидающий таймер и
// взводит новый. Выполняющаяся проба не прерывается.
func (s *Scheduler) Configure(cfg PingConfig) PingConfig {
	cfg = cfg.normalize(s.floor)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopTimer()
	s.cfg = cfg
	s.state = StateArmed
	s.arm()

	s.logger.Info("Ping scheduler configured",
		zap.String("host", cfg.Host),
		zap.Int("count", cfg.Count),
		zap.Float64("min_interval", cfg.MinInterval),
		zap.Float64("max_interval", cfg.MaxInterval))

	return cfg
}

// Stop сбрасывает таймер, отменяет текущую пробу и ждет ее завершения.
// После Stop ни одна проба не запустится до следующего Configure.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.gen++
	s.stopTimer()
	s.state = StateIdle
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("Ping scheduler stopped")
}

// State возвращает текущее состояние
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config возвращает действующую конфигурацию
func (s *Scheduler) Config() (PingConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.state == StateArmed
}

// arm вызывается под s.mu
func (s *Scheduler) arm() {
	delay := NextDelay(s.cfg, s.rnd())
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })

	s.logger.Debug("Ping probe scheduled", zap.Duration("delay", delay))
}

// stopTimer вызывается под s.mu
func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	cfg, ctx := s.cfg, s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.runMu.Lock()
	s.probe(ctx, cfg)
	s.runMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// reconfigured or stopped while the probe was running
	if gen != s.gen {
		return
	}
	s.arm()
}
