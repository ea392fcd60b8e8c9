package domain

import (
	"math/rand"
	"time"
)

// Backoff calcula el delay de reconexión exponencial con cap y jitter.
// El contador de intentos lo lleva el caller y se resetea a cero tras
// un handshake exitoso.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// Delay devuelve min(Base * 2^attempt, Cap) más un jitter aleatorio
// acotado en [0, Jitter).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}
