package zabbix

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"systemstats/internal/collector"
	pkgzabbix "systemstats/pkg/zabbix"
)

const (
	defaultQueueSize = 256
	defaultBatchSize = 64
)

// ErrQueueFull возвращается, когда отправка не успевает за метриками
var ErrQueueFull = errors.New("zabbix queue full")

// sender позволяет подменить сетевую отправку в тестах
type sender interface {
	SendData(ctx context.Context, data []pkgzabbix.SenderData) (pkgzabbix.SenderResponse, error)
	Address() string
}

// Sink переводит события сборщика в элементы данных Zabbix trapper
// и отправляет их пакетами из отдельной горутины.
type Sink struct {
	sender   sender
	hostName string
	logger   *zap.Logger

	queue chan pkgzabbix.SenderData
	done  chan struct{}
}

// NewSink создает Publisher поверх Sender
func NewSink(s *Sender, hostName string, logger *zap.Logger) *Sink {
	return newSink(s, hostName, logger)
}

func newSink(s sender, hostName string, logger *zap.Logger) *Sink {
	return &Sink{
		sender:   s,
		hostName: hostName,
		logger:   logger,
		queue:    make(chan pkgzabbix.SenderData, defaultQueueSize),
		done:     make(chan struct{}),
	}
}

// Publish реализует collector.Publisher и не блокирует поток метрики
func (s *Sink) Publish(_ context.Context, ev collector.Event) error {
	for _, item := range s.Convert(ev) {
		select {
		case s.queue <- item:
		default:
			return ErrQueueFull
		}
	}
	return nil
}

// Run отправляет накопленные значения до отмены контекста
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("Zabbix sink started",
		zap.String("address", s.sender.Address()),
		zap.String("host", s.hostName))

	for {
		select {
		case item := <-s.queue:
			s.flush(ctx, s.drain(item))
		case <-ctx.Done():
			s.logger.Info("Zabbix sink stopped")
			return
		}
	}
}

// Wait дожидается завершения Run
func (s *Sink) Wait() {
	<-s.done
}

func (s *Sink) drain(first pkgzabbix.SenderData) []pkgzabbix.SenderData {
	batch := []pkgzabbix.SenderData{first}
	for len(batch) < defaultBatchSize {
		select {
		case item := <-s.queue:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (s *Sink) flush(ctx context.Context, batch []pkgzabbix.SenderData) {
	resp, err := s.sender.SendData(ctx, batch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to send metrics to Zabbix",
				zap.Int("items", len(batch)),
				zap.Error(err))
		}
		return
	}
	s.logger.Debug("Metrics sent to Zabbix",
		zap.Int("items", len(batch)),
		zap.String("info", resp.Info))
}

// Convert раскладывает событие на значения элементов данных.
// Заглушки "N/A" и пустые результаты ping не отправляются.
func (s *Sink) Convert(ev collector.Event) []pkgzabbix.SenderData {
	clock := ev.At.Unix()
	if ev.At.IsZero() {
		clock = time.Now().Unix()
	}
	item := func(key, value string) pkgzabbix.SenderData {
		return pkgzabbix.SenderData{Host: s.hostName, Key: key, Value: value, Clock: clock}
	}

	name := string(ev.Name)
	var items []pkgzabbix.SenderData

	switch p := ev.Payload.(type) {
	case collector.CPUUsage:
		items = append(items, item(pkgzabbix.Key(name), strconv.Itoa(p.Percentage)))
		for i, v := range p.PerCore {
			items = append(items, item(pkgzabbix.Key(name, strconv.Itoa(i)), strconv.Itoa(v)))
		}
	case collector.CPUTemp:
		if p.Celsius != collector.NotAvailable {
			items = append(items, item(pkgzabbix.Key(name), p.Celsius))
		}
	case collector.MemUsage:
		if p.TotalGB != collector.NotAvailable {
			items = append(items,
				item(pkgzabbix.Key(name, "used"), p.UsedGB),
				item(pkgzabbix.Key(name, "free"), p.FreeGB),
				item(pkgzabbix.Key(name, "total"), p.TotalGB))
		}
	case collector.DiskUsage:
		if p.Capacity != collector.NotAvailable {
			items = append(items,
				item(pkgzabbix.Key(name, "capacity"), p.Capacity),
				item(pkgzabbix.Key(name, "free"), p.Free))
		}
	case collector.FanSpeed:
		if p.Available {
			items = append(items, item(pkgzabbix.Key(name), strconv.Itoa(p.RPM)))
		}
	case collector.PingResult:
		if p.AverageMs != nil {
			items = append(items, item(pkgzabbix.Key(name), strconv.FormatFloat(*p.AverageMs, 'f', 3, 64)))
		}
	default:
		s.logger.Debug("Skipping unsupported payload", zap.String("metric", name))
	}

	return items
}

// HostName возвращает имя хоста в Zabbix; по умолчанию - hostname машины
func HostName(configured, fallback string) string {
	if h := strings.TrimSpace(configured); h != "" {
		return h
	}
	return fallback
}
