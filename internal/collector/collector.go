package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"systemstats/internal/parser"
	"systemstats/internal/pulse"
	"systemstats/internal/rate"
	"systemstats/internal/scheduler"
)

// tickTimeout ограничивает одну выборку метрики
const tickTimeout = 30 * time.Second

// Publisher доставляет события слою отображения
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// errorNotifier реализуется источниками фронтов, умеющими сообщать о сбое
type errorNotifier interface {
	OnError(func(error))
}

// sampler делает одну выборку; ok=false - публиковать нечего
type sampler func(ctx context.Context) (payload any, ok bool)

// Collector отвечает за сбор системных метрик и их публикацию.
// Каждое семейство метрик работает в своей горутине с собственным
// интервалом, выборки внутри семейства строго последовательны.
type Collector struct {
	logger  *zap.Logger
	sources Sources

	// принадлежат горутине потока cpu_usage
	cpu   rate.Metric
	cores rate.PerCore

	fan         *pulse.Counter
	fanAttached bool
	fanLost     atomic.Bool
	ping        *scheduler.Scheduler

	cfgMu      sync.Mutex
	opts       Options
	configured bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	active     atomic.Int32

	mu         sync.RWMutex
	latest     map[Metric]Event
	callbacks  []func(Event)
	publishers []Publisher
}

// New создает новый экземпляр сборщика метрик
func New(sources Sources, logger *zap.Logger) *Collector {
	c := &Collector{
		logger:  logger,
		sources: sources,
		fan:     pulse.NewCounter(millis(DefaultOptions().FanUpdateInterval)),
		latest:  make(map[Metric]Event),
	}
	c.ping = scheduler.New(c.probePing, logger.Named("ping"))
	return c
}

// AddPublisher подключает внешний канал публикации
func (c *Collector) AddPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishers = append(c.publishers, p)
}

// OnUpdate регистрирует обработчик каждого нового значения
func (c *Collector) OnUpdate(callback func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// Subscribe регистрирует обработчик обновлений одной метрики
func (c *Collector) Subscribe(name Metric, callback func(Event)) {
	c.OnUpdate(func(ev Event) {
		if ev.Name == name {
			callback(ev)
		}
	})
}

// CurrentValue возвращает последнее значение метрики
func (c *Collector) CurrentValue(name Metric) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.latest[name]
	if !ok {
		return nil, false
	}
	return ev.Payload, true
}

// Latest возвращает последние события всех метрик в порядке Metrics
func (c *Collector) Latest() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := make([]Event, 0, len(c.latest))
	for _, ev := range c.latest {
		events = append(events, ev)
	}
	order := make(map[Metric]int, len(Metrics))
	for i, m := range Metrics {
		order[m] = i
	}
	sort.Slice(events, func(i, j int) bool {
		return order[events[i].Name] < order[events[j].Name]
	})
	return events
}

// Options возвращает действующие опции
func (c *Collector) Options() Options {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.opts
}

// ActiveStreams возвращает число работающих потоков с интервалом
func (c *Collector) ActiveStreams() int {
	return int(c.active.Load())
}

// Configure полностью заменяет опции и перезапускает все таймеры.
// Повторный вызов с теми же опциями оставляет по одному таймеру на поток.
func (c *Collector) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.configureLocked(opts)
	return nil
}

// Merge накладывает частичные опции в JSON на текущие и применяет их
func (c *Collector) Merge(patch []byte) (Options, error) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	base := c.opts
	if !c.configured {
		base = DefaultOptions()
	}
	merged, err := base.Merge(patch)
	if err != nil {
		return c.opts, err
	}
	if err := merged.Validate(); err != nil {
		return c.opts, err
	}

	c.configureLocked(merged)
	return merged, nil
}

func (c *Collector) configureLocked(opts Options) {
	c.stopStreams()

	c.opts = opts
	c.configured = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if opts.ShowCPUUsage {
		c.startStream(ctx, MetricCPUUsage, millis(opts.CPUUpdateInterval), true, c.cpuSampler(opts.PerCore))
	}
	if opts.ShowCPUTemp {
		c.startStream(ctx, MetricCPUTemp, millis(opts.TempUpdateInterval), true, c.sampleTemperature)
	}
	if opts.ShowRAMUsage {
		c.startStream(ctx, MetricMemUsage, millis(opts.RAMUpdateInterval), true, c.sampleMemory)
	}
	if opts.ShowDiskUsage {
		c.startStream(ctx, MetricDiskUsage, millis(opts.DiskUpdateInterval), true, c.sampleDisk)
	}
	if opts.ShowFanSpeed {
		c.attachFan()
		window := millis(opts.FanUpdateInterval)
		c.fan.SetWindow(window)
		// discard edges counted under the previous window length
		_, _ = c.fan.DeriveAndReset()
		c.startStream(ctx, MetricFanSpeed, window, false, c.sampleFan)
	}

	if opts.ShowPing {
		c.ping.Configure(opts.PingConfig())
	} else {
		c.ping.Stop()
	}

	c.logger.Info("Collector configured",
		zap.Int("streams", c.ActiveStreams()),
		zap.Bool("ping", opts.ShowPing))
}

// Stop останавливает все потоки и планировщик ping
func (c *Collector) Stop() {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	c.stopStreams()
	c.ping.Stop()

	if c.fanAttached && c.sources.Fan != nil {
		if err := c.sources.Fan.Close(); err != nil {
			c.logger.Warn("Failed to close fan edge source", zap.Error(err))
		}
		c.fanAttached = false
	}
	c.logger.Info("Collector stopped")
}

// stopStreams вызывается под cfgMu
func (c *Collector) stopStreams() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
}

func (c *Collector) startStream(ctx context.Context, name Metric, interval time.Duration, immediate bool, sample sampler) {
	c.wg.Add(1)
	c.active.Add(1)

	go func() {
		defer c.wg.Done()
		defer c.active.Add(-1)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if immediate {
			c.tick(ctx, name, sample)
		}

		for {
			select {
			case <-ticker.C:
				c.tick(ctx, name, sample)
			case <-ctx.Done():
				c.logger.Debug("Metric stream stopped", zap.String("metric", string(name)))
				return
			}
		}
	}()
}

func (c *Collector) tick(ctx context.Context, name Metric, sample sampler) {
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	payload, ok := sample(ctx)
	if !ok || ctx.Err() != nil {
		return
	}
	c.publish(ctx, name, payload)
}

// Collect однократно опрашивает все включенные в opts семейства, кроме
// вентилятора, параллельно. Для загрузки CPU берутся два снимка с паузой
// в секунду. Не предназначен для вызова при работающих потоках.
func (c *Collector) Collect(ctx context.Context, opts Options) (map[Metric]any, error) {
	jobs := map[Metric]sampler{}
	if opts.ShowCPUUsage {
		cpuSample := c.cpuSampler(opts.PerCore)
		jobs[MetricCPUUsage] = func(ctx context.Context) (any, bool) {
			cpuSample(ctx)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, false
			}
			return cpuSample(ctx)
		}
	}
	if opts.ShowCPUTemp {
		jobs[MetricCPUTemp] = c.sampleTemperature
	}
	if opts.ShowRAMUsage {
		jobs[MetricMemUsage] = c.sampleMemory
	}
	if opts.ShowDiskUsage {
		jobs[MetricDiskUsage] = c.sampleDisk
	}
	if opts.ShowPing {
		cfg := opts.PingConfig().Normalize()
		jobs[MetricPing] = func(ctx context.Context) (any, bool) {
			return c.pingOnce(ctx, cfg), true
		}
	}

	type result struct {
		name    Metric
		payload any
		ok      bool
	}

	results := make(chan result, len(jobs))
	for name, job := range jobs {
		go func(name Metric, job sampler) {
			payload, ok := job(ctx)
			results <- result{name: name, payload: payload, ok: ok}
		}(name, job)
	}

	out := make(map[Metric]any, len(jobs))
	for i := 0; i < len(jobs); i++ {
		select {
		case res := <-results:
			if !res.ok {
				c.logger.Warn("Failed to collect metric", zap.String("metric", string(res.name)))
				continue
			}
			out[res.name] = res.payload
			c.publish(ctx, res.name, res.payload)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}

	if len(jobs) > 0 && len(out) == 0 {
		return out, fmt.Errorf("failed to collect all metrics")
	}
	return out, nil
}

func (c *Collector) cpuSampler(perCore bool) sampler {
	return func(ctx context.Context) (any, bool) {
		if c.sources.CPU == nil {
			return nil, false
		}

		stat, err := c.sources.CPU.Times(ctx)
		if err != nil {
			c.logger.Warn("Failed to read cpu counters", zap.Error(err))
			return nil, false
		}

		now := time.Now()
		stat.Aggregate.TakenAt = now
		pct, err := c.cpu.Update(stat.Aggregate)
		if err != nil {
			c.logger.Warn("CPU counter anomaly, holding last value",
				zap.Int("percentage", pct),
				zap.Error(err))
		}

		usage := CPUUsage{Percentage: pct}
		if perCore {
			for i := range stat.Cores {
				stat.Cores[i].TakenAt = now
			}
			cores, err := c.cores.Update(stat.Cores)
			if err != nil {
				c.logger.Warn("Per-core counter anomaly, holding last values", zap.Error(err))
			}
			usage.PerCore = cores
		}
		return usage, true
	}
}

func (c *Collector) sampleTemperature(ctx context.Context) (any, bool) {
	if c.sources.Temperature == nil {
		return UnavailableCPUTemp(), true
	}

	celsius, err := c.sources.Temperature.Temperature(ctx)
	if err != nil {
		c.logger.Warn("CPU temperature unavailable", zap.Error(err))
		return UnavailableCPUTemp(), true
	}
	return NewCPUTemp(celsius), true
}

func (c *Collector) sampleMemory(ctx context.Context) (any, bool) {
	if c.sources.Memory == nil {
		return UnavailableMemUsage(), true
	}

	sample, err := c.sources.Memory.Memory(ctx)
	if err != nil {
		c.logger.Warn("Memory statistics unavailable", zap.Error(err))
		return UnavailableMemUsage(), true
	}
	return NewMemUsage(sample), true
}

// sampleDisk сохраняет предыдущее значение при ошибке; заглушка
// публикуется только если значения еще не было
func (c *Collector) sampleDisk(ctx context.Context) (any, bool) {
	var (
		du  parser.DiskUsage
		err = fmt.Errorf("%w: no disk source", ErrSourceUnavailable)
	)
	if c.sources.Disk != nil {
		du, err = c.sources.Disk.Disk(ctx)
	}
	if err != nil {
		c.logger.Warn("Failed to read disk usage", zap.Error(err))
		if _, ok := c.CurrentValue(MetricDiskUsage); ok {
			return nil, false
		}
		return DiskUsage{Capacity: NotAvailable, Free: NotAvailable}, true
	}
	return DiskUsage{Capacity: du.Capacity, Free: du.Free}, true
}

func (c *Collector) sampleFan(_ context.Context) (any, bool) {
	rpm, err := c.fan.DeriveAndReset()
	if err != nil {
		if !errors.Is(err, pulse.ErrSourceUnavailable) {
			c.logger.Warn("Failed to derive fan speed", zap.Error(err))
		}
		return FanSpeed{}, true
	}
	return FanSpeed{RPM: rpm, Available: true}, true
}

// attachFan вызывается под cfgMu. Потерянный источник закрывается и
// подключается заново.
func (c *Collector) attachFan() {
	if c.fanAttached && !c.fanLost.Load() {
		return
	}
	if c.fanAttached {
		if err := c.sources.Fan.Close(); err != nil {
			c.logger.Warn("Failed to close lost fan edge source", zap.Error(err))
		}
		c.fanAttached = false
	}

	if n, ok := c.sources.Fan.(errorNotifier); ok {
		n.OnError(func(err error) {
			c.logger.Warn("Fan edge source lost", zap.Error(err))
			c.fanLost.Store(true)
			c.fan.MarkUnavailable()
		})
	}
	c.fanLost.Store(false)

	if err := c.fan.Attach(c.sources.Fan); err != nil {
		c.logger.Warn("Fan edge source unavailable", zap.Error(err))
		return
	}
	c.fanAttached = true

	// the wait loop may fail before Attach marks the counter available
	if c.fanLost.Load() {
		c.fan.MarkUnavailable()
	}
}

func (c *Collector) probePing(ctx context.Context, cfg scheduler.PingConfig) {
	res := c.pingOnce(ctx, cfg)
	if ctx.Err() != nil {
		return
	}
	c.publish(ctx, MetricPing, res)
}

func (c *Collector) pingOnce(ctx context.Context, cfg scheduler.PingConfig) PingResult {
	if c.sources.Ping == nil {
		return NewPingResult(cfg.Host, nil, fmt.Errorf("%w: no ping source", ErrSourceUnavailable))
	}

	res := c.sources.Ping.Ping(ctx, cfg.Host, cfg.Count)
	if res.Error != nil {
		c.logger.Warn("Ping probe failed",
			zap.String("host", cfg.Host),
			zap.String("error", *res.Error))
	} else if res.AverageMs == nil {
		c.logger.Warn("Ping output had no data", zap.String("host", cfg.Host))
	} else {
		c.logger.Debug("Ping probe completed",
			zap.String("host", cfg.Host),
			zap.Float64("average_ms", *res.AverageMs))
	}
	return res
}

// publish заменяет последнее значение и рассылает событие
func (c *Collector) publish(ctx context.Context, name Metric, payload any) {
	ev := Event{Name: name, Payload: payload, At: time.Now()}

	c.mu.Lock()
	c.latest[name] = ev
	callbacks := append([]func(Event){}, c.callbacks...)
	publishers := append([]Publisher{}, c.publishers...)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(ev)
	}
	for _, p := range publishers {
		if err := p.Publish(ctx, ev); err != nil {
			c.logger.Warn("Failed to publish metric",
				zap.String("metric", string(name)),
				zap.Error(err))
		}
	}

	c.logger.Debug("Metric published", zap.String("metric", string(name)))
}
