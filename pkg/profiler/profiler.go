package profiler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"

	"go.uber.org/zap"
)

// Config представляет конфигурацию профилировщика
type Config struct {
	Enable     bool   // pprof endpoints на основном HTTP сервере
	CPUProfile string // путь к файлу CPU профиля
	MemProfile string // путь к файлу профиля памяти
}

// Profiler управляет профилированием приложения
type Profiler struct {
	config  Config
	logger  *zap.Logger
	cpuFile *os.File
}

// New создает новый профилировщик
func New(config Config, logger *zap.Logger) *Profiler {
	return &Profiler{
		config: config,
		logger: logger,
	}
}

// Register добавляет /debug/pprof/* в mux, если профилирование включено
func (p *Profiler) Register(mux *http.ServeMux) {
	if !p.config.Enable {
		return
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	p.logger.Info("pprof endpoints enabled", zap.String("path", "/debug/pprof/"))
}

// Start начинает запись CPU профиля, если задан файл
func (p *Profiler) Start() error {
	if p.config.CPUProfile == "" {
		return nil
	}

	file, err := os.Create(p.config.CPUProfile)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := runtimepprof.StartCPUProfile(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	p.cpuFile = file

	p.logger.Info("Started CPU profiling", zap.String("file", p.config.CPUProfile))
	return nil
}

// Stop останавливает CPU профиль и записывает профиль памяти
func (p *Profiler) Stop() error {
	var errs []error

	if p.cpuFile != nil {
		runtimepprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile file: %w", err))
		}
		p.cpuFile = nil
		p.logger.Info("Stopped CPU profiling", zap.String("file", p.config.CPUProfile))
	}

	if p.config.MemProfile != "" {
		if err := p.writeMemProfile(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *Profiler) writeMemProfile() error {
	file, err := os.Create(p.config.MemProfile)
	if err != nil {
		return fmt.Errorf("failed to create memory profile file: %w", err)
	}
	defer file.Close()

	// GC перед снимком, чтобы профиль отражал живые объекты
	runtime.GC()

	if err := runtimepprof.WriteHeapProfile(file); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}

	p.logger.Info("Written memory profile", zap.String("file", p.config.MemProfile))
	return nil
}

// LogMemStats логирует статистику памяти
func (p *Profiler) LogMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	p.logger.Info("Memory statistics",
		zap.Uint64("alloc_mb", m.Alloc/1024/1024),
		zap.Uint64("sys_mb", m.Sys/1024/1024),
		zap.Uint32("num_gc", m.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()),
	)
}
