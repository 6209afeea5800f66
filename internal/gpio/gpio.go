// Package gpio предоставляет источник фронтов на базе sysfs GPIO.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// DefaultRoot - стандартный путь к sysfs GPIO
const DefaultRoot = "/sys/class/gpio"

// Edge задает тип фронта, на который реагирует пин
type Edge string

const (
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

// SysfsEdgeSource ждет прерываний на пине через файл value
type SysfsEdgeSource struct {
	root   string
	pin    int
	edge   Edge
	logger *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
}

// NewSysfsEdgeSource создает источник для пина pin
func NewSysfsEdgeSource(root string, pin int, edge Edge, logger *zap.Logger) *SysfsEdgeSource {
	if root == "" {
		root = DefaultRoot
	}
	if edge == "" {
		edge = EdgeFalling
	}
	return &SysfsEdgeSource{
		root:   root,
		pin:    pin,
		edge:   edge,
		logger: logger,
	}
}

// OnError задает обработчик фатальной ошибки цикла ожидания
func (s *SysfsEdgeSource) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *SysfsEdgeSource) pinDir() string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(s.pin))
}

// setup экспортирует пин и настраивает его на вход с прерыванием
func (s *SysfsEdgeSource) setup() error {
	if _, err := os.Stat(s.pinDir()); os.IsNotExist(err) {
		if err := writeFile(filepath.Join(s.root, "export"), strconv.Itoa(s.pin)); err != nil {
			return fmt.Errorf("failed to export gpio %d: %w", s.pin, err)
		}
	}
	if err := writeFile(filepath.Join(s.pinDir(), "direction"), "in"); err != nil {
		return fmt.Errorf("failed to set gpio %d direction: %w", s.pin, err)
	}
	if err := writeFile(filepath.Join(s.pinDir(), "edge"), string(s.edge)); err != nil {
		return fmt.Errorf("failed to set gpio %d edge: %w", s.pin, err)
	}
	return nil
}

func (s *SysfsEdgeSource) reportError(err error) {
	s.logger.Warn("GPIO edge source failed",
		zap.Int("pin", s.pin),
		zap.Error(err))

	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
