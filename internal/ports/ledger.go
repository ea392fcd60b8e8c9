package ports

import (
	"context"

	"github.com/winzalabs/chainsync/internal/domain"
)

// RoundProvider lee rondas del ledger (camino de lectura).
// Los fallos de transporte o de protocolo degradan a resultado vacío:
// el siguiente poll reintenta de forma natural.
type RoundProvider interface {
	// ActiveRound devuelve la ronda activa del dominio, o nil si no hay.
	ActiveRound(ctx context.Context) (*domain.Round, error)

	// ClosedRound devuelve la ronda en estado CLOSED más reciente, o nil.
	ClosedRound(ctx context.Context) (*domain.Round, error)

	// Round devuelve una ronda por id, o nil si no existe.
	Round(ctx context.Context, id uint64) (*domain.Round, error)

	// AllRounds devuelve todas las rondas que el ledger aún conserva.
	AllRounds(ctx context.Context) ([]domain.Round, error)
}

// WinnerProvider lee los winners de una ronda (camino de lectura).
type WinnerProvider interface {
	RoundWinners(ctx context.Context, roundID uint64) ([]domain.Winner, error)
}

// RoundWriter ejecuta las mutaciones del ciclo de vida (camino de
// escritura). A diferencia del camino de lectura, los fallos se propagan
// para que la política de retry del caller actúe.
type RoundWriter interface {
	// CloseRound cierra la ronda activa del dominio.
	CloseRound(ctx context.Context) error

	// ResolveRound fuerza un paso de resolución de la ronda dada:
	// generateWinner en sorteo, resolveRound en predicción. El ledger no
	// garantiza idempotencia — reintentar puede producir efectos dobles.
	ResolveRound(ctx context.Context, roundID uint64) error
}

// TicketBuyer envía la compra de tickets / apuesta (camino de escritura).
type TicketBuyer interface {
	PurchaseTickets(ctx context.Context, roundID uint64) error
}

// Notifications entrega señales "algo cambió, re-consulta" desde el socket
// de notificaciones del ledger. El contenido del mensaje nunca se
// interpreta: cada señal es puramente edge-triggered. Las señales pueden
// llegar duplicadas, fuera de orden o perderse — los consumidores deben
// seguir siendo correctos solo con sus polls periódicos.
type Notifications interface {
	// Signals devuelve el canal acotado de señales. Si el consumidor va
	// lento las señales se colapsan, nunca se bloquea el lector del socket.
	Signals() <-chan struct{}

	// Run mantiene la suscripción viva (reconexión con backoff) hasta que
	// el contexto se cancele.
	Run(ctx context.Context)
}
