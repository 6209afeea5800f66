//go:build !linux

package gpio

import "errors"

// OnEdge не поддерживается вне Linux
func (s *SysfsEdgeSource) OnEdge(func()) error {
	return errors.New("gpio edge source is only supported on linux")
}

// Close ничего не делает вне Linux
func (s *SysfsEdgeSource) Close() error {
	return nil
}
