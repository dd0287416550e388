package dispatch

import (
	"math/rand/v2"
	"time"

	"github.com/shaiso/Courier/internal/config"
)

// Backoff возвращает задержку перед попыткой attempt (1-based).
//
// Экспоненциальный рост от InitialDelay с удвоением, верхняя граница
// MaxDelay, плюс случайный разброс ±Jitter — чтобы партия tasks,
// упавшая на одном сбое upstream, не вернулась к нему одной волной.
func Backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter > 0 {
		// Разброс в диапазоне [-jitter, +jitter] от базовой задержки.
		spread := (rand.Float64()*2 - 1) * cfg.Jitter
		delay = time.Duration(float64(delay) * (1 + spread))
	}

	if delay < 0 {
		delay = 0
	}

	return delay
}
