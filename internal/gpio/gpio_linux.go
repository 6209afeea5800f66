//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs ограничивает ожидание, чтобы Close не зависал
const pollTimeoutMs = 500

// OnEdge настраивает пин и запускает цикл ожидания прерываний
func (s *SysfsEdgeSource) OnEdge(callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return errors.New("gpio edge source already started")
	}

	if err := s.setup(); err != nil {
		return err
	}

	fd, err := unix.Open(filepath.Join(s.pinDir(), "value"), unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open gpio %d value: %w", s.pin, err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to create epoll: %w", err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return fmt.Errorf("failed to watch gpio %d: %w", s.pin, err)
	}

	// the first read clears the pending interrupt raised by open
	buf := make([]byte, 8)
	_, _ = unix.Pread(fd, buf, 0)

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.wait(fd, epfd, callback, s.stop, s.done)

	s.logger.Info("GPIO edge source started",
		zap.Int("pin", s.pin),
		zap.String("edge", string(s.edge)))
	return nil
}

func (s *SysfsEdgeSource) wait(fd, epfd int, callback func(), stop, done chan struct{}) {
	defer close(done)
	defer unix.Close(epfd)
	defer unix.Close(fd)

	events := make([]unix.EpollEvent, 1)
	buf := make([]byte, 8)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, events, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.release(stop)
			s.reportError(fmt.Errorf("epoll wait: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		if _, err := unix.Pread(fd, buf, 0); err != nil {
			s.release(stop)
			s.reportError(fmt.Errorf("read value: %w", err))
			return
		}
		callback()
	}
}

// release забывает завершившийся цикл, чтобы OnEdge мог запустить новый
func (s *SysfsEdgeSource) release(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == stop {
		s.stop, s.done = nil, nil
	}
}

// Close останавливает цикл ожидания
func (s *SysfsEdgeSource) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
