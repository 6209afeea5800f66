package rate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCounterAnomaly означает, что счётчик не вырос (сброс, переполнение)
var ErrCounterAnomaly = errors.New("counter anomaly")

// Snapshot содержит накопительные счётчики тиков CPU на момент чтения
type Snapshot struct {
	Idle    uint64
	Total   uint64
	TakenAt time.Time
}

// Metric вычисляет загрузку в процентах по двум последовательным снимкам.
// Не потокобезопасен: владелец вызывает Update последовательно.
type Metric struct {
	prev      Snapshot
	hasPrev   bool
	published int
}

// Update принимает новый снимок и возвращает загрузку 0..100.
// Первый вызов возвращает 0. При аномалии счётчиков возвращается
// предыдущее значение вместе с ErrCounterAnomaly.
func (m *Metric) Update(now Snapshot) (int, error) {
	if !m.hasPrev {
		m.prev = now
		m.hasPrev = true
		m.published = 0
		return 0, nil
	}

	prev := m.prev
	m.prev = now

	if now.Total <= prev.Total || now.Idle < prev.Idle {
		return m.published, fmt.Errorf("%w: total %d -> %d, idle %d -> %d",
			ErrCounterAnomaly, prev.Total, now.Total, prev.Idle, now.Idle)
	}

	idleDelta := float64(now.Idle - prev.Idle)
	totalDelta := float64(now.Total - prev.Total)

	m.published = clamp(int(math.Round(100*(1-idleDelta/totalDelta))), 0, 100)
	return m.published, nil
}

// Last возвращает последнее опубликованное значение
func (m *Metric) Last() int {
	return m.published
}

// Reset забывает предыдущий снимок
func (m *Metric) Reset() {
	*m = Metric{}
}

// PerCore хранит независимый Metric для каждого ядра (индексы 0..N-1)
type PerCore struct {
	cores []*Metric
}

// Update обновляет метрику каждого ядра. Если число ядер изменилось,
// состояние пересоздаётся. Ошибки ядер объединяются, значения всегда
// возвращаются для всех ядер.
func (p *PerCore) Update(snaps []Snapshot) ([]int, error) {
	if len(snaps) != len(p.cores) {
		p.cores = make([]*Metric, len(snaps))
		for i := range p.cores {
			p.cores[i] = &Metric{}
		}
	}

	out := make([]int, len(snaps))
	var errs []error
	for i, s := range snaps {
		v, err := p.cores[i].Update(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("core %d: %w", i, err))
		}
		out[i] = v
	}

	return out, errors.Join(errs...)
}

// Len возвращает число отслеживаемых ядер
func (p *PerCore) Len() int {
	return len(p.cores)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
