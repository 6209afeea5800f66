package collector

import "errors"

var (
	// ErrSourceUnavailable - псевдофайл или команда датчика недоступны
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidOptions - опции не прошли проверку
	ErrInvalidOptions = errors.New("invalid options")
)
