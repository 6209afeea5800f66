package units

import (
	"fmt"
	"math"
)

const (
	bytesPerGB = 1024 * 1024 * 1024
	bytesPerMB = 1024 * 1024
)

// knownSizes содержит типовые объёмы памяти в ГБ, по возрастанию
var knownSizes = []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128, 256}

// BytesToGB переводит байты в гигабайты (двоичные)
func BytesToGB(b uint64) float64 {
	return float64(b) / bytesPerGB
}

// BytesToMB переводит байты в мегабайты (двоичные)
func BytesToMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}

// CelsiusToFahrenheit переводит градусы Цельсия в Фаренгейты
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// MilliCelsiusToCelsius переводит милли-градусы (формат thermal_zone) в градусы
func MilliCelsiusToCelsius(milli float64) float64 {
	return milli / 1000
}

// NiceTotalSize возвращает ближайший типовой объём памяти.
// При равном расстоянии выбирается больший объём.
func NiceTotalSize(totalGB float64) float64 {
	best := knownSizes[0]
	bestDist := math.Abs(totalGB - best)
	for _, size := range knownSizes[1:] {
		// sizes are ascending, so <= moves ties to the larger size
		if d := math.Abs(totalGB - size); d <= bestDist {
			best, bestDist = size, d
		}
	}
	return best
}

// NiceTotalLabel возвращает подпись вида "512MB" или "8GB"
func NiceTotalLabel(totalGB float64) string {
	if math.IsNaN(totalGB) || totalGB <= 0 {
		return "N/A"
	}
	size := NiceTotalSize(totalGB)
	if size < 1 {
		return fmt.Sprintf("%dMB", int(size*1024))
	}
	return fmt.Sprintf("%dGB", int(size))
}

// PingColor возвращает цвет для отображения задержки
func PingColor(ms float64) string {
	switch {
	case math.IsNaN(ms):
		return ""
	case ms <= 20:
		return "green"
	case ms <= 50:
		return "yellow"
	case ms <= 100:
		return "orange"
	default:
		return "red"
	}
}
