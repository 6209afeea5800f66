package pulse

import (
	"errors"
	"math"
	"sync"
	"time"
)

// EdgesPerRevolution - тахометр вентилятора выдаёт два импульса за оборот
const EdgesPerRevolution = 2

// ErrSourceUnavailable возвращается, когда источник импульсов недоступен
var ErrSourceUnavailable = errors.New("edge source unavailable")

// EdgeSource - внешний источник фронтов (например, GPIO)
type EdgeSource interface {
	// OnEdge регистрирует обработчик, вызываемый на каждый фронт
	OnEdge(callback func()) error
	Close() error
}

// Counter накапливает фронты за окно и вычисляет обороты в минуту
type Counter struct {
	mu        sync.Mutex
	edges     int
	window    time.Duration
	available bool
}

// NewCounter создает счётчик с заданной длиной окна
func NewCounter(window time.Duration) *Counter {
	return &Counter{window: window}
}

// Attach подписывает счётчик на источник. При ошибке счётчик
// помечается недоступным.
func (c *Counter) Attach(src EdgeSource) error {
	if src == nil {
		c.MarkUnavailable()
		return ErrSourceUnavailable
	}
	if err := src.OnEdge(c.Edge); err != nil {
		c.MarkUnavailable()
		return errors.Join(ErrSourceUnavailable, err)
	}

	c.mu.Lock()
	c.available = true
	c.edges = 0
	c.mu.Unlock()
	return nil
}

// Edge учитывает один фронт
func (c *Counter) Edge() {
	c.mu.Lock()
	c.edges++
	c.mu.Unlock()
}

// MarkUnavailable помечает источник как пропавший
func (c *Counter) MarkUnavailable() {
	c.mu.Lock()
	c.available = false
	c.edges = 0
	c.mu.Unlock()
}

// SetWindow меняет длину окна для следующих вычислений
func (c *Counter) SetWindow(window time.Duration) {
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()
}

// DeriveAndReset вычисляет RPM за окно и обнуляет счётчик.
// Чтение и сброс атомарны относительно Edge.
func (c *Counter) DeriveAndReset() (int, error) {
	c.mu.Lock()
	edges := c.edges
	c.edges = 0
	available := c.available
	window := c.window
	c.mu.Unlock()

	if !available {
		return 0, ErrSourceUnavailable
	}
	return RPM(edges, window), nil
}

// RPM переводит число фронтов за окно в обороты в минуту
func RPM(edges int, window time.Duration) int {
	if window <= 0 || edges <= 0 {
		return 0
	}
	revolutions := float64(edges) / EdgesPerRevolution
	return int(math.Round(revolutions / window.Seconds() * 60))
}
