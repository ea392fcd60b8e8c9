package ports

import (
	"context"
	"errors"

	"github.com/winzalabs/chainsync/internal/domain"
)

// Errores del contrato de cache. Las implementaciones deben devolverlos
// envueltos para que los callers puedan usar errors.Is.
var (
	// ErrNotFound indica que la fila no existe para la clave natural dada.
	ErrNotFound = errors.New("cache: not found")
	// ErrDuplicate indica un conflicto de unicidad en un create: otro
	// writer ganó la carrera. El caller debe reintentar como update.
	ErrDuplicate = errors.New("cache: duplicate key")
)

// Cache es el contrato genérico create/update/find/list/delete sobre las
// colecciones locales `rounds` y `winners`. Una escritura de una entidad
// es atómica: ningún lector observa una entidad a medio aplicar.
type Cache interface {
	// CreateRound inserta una ronda nueva. Devuelve ErrDuplicate si ya
	// existe una fila con la misma (domain, round_id).
	CreateRound(ctx context.Context, r domain.Round) error

	// UpdateRound reescribe la ronda identificada por (domain, round_id).
	// Devuelve ErrNotFound si no existe.
	UpdateRound(ctx context.Context, r domain.Round) error

	// FindRound busca por clave natural. Devuelve ErrNotFound si no existe.
	FindRound(ctx context.Context, dom string, id uint64) (domain.Round, error)

	// ListRounds devuelve las rondas de la partición ordenadas por
	// round_id descendente (más reciente primero).
	ListRounds(ctx context.Context, dom string) ([]domain.Round, error)

	// DeleteRound borra la ronda y sus winners asociados.
	DeleteRound(ctx context.Context, dom string, id uint64) error

	// CreateWinner inserta un winner. Devuelve ErrDuplicate si ya existe
	// la tripleta (round_id, ticket_number, source_chain_id).
	CreateWinner(ctx context.Context, w domain.Winner) error

	// UpdateWinner reescribe el winner identificado por su tripleta.
	UpdateWinner(ctx context.Context, w domain.Winner) error

	// FindWinner busca por la tripleta. Devuelve ErrNotFound si no existe.
	FindWinner(ctx context.Context, dom string, roundID, ticket uint64, sourceChainID string) (domain.Winner, error)

	// ListWinners devuelve los winners de una ronda ordenados por
	// created_at ascendente (orden de creación).
	ListWinners(ctx context.Context, dom string, roundID uint64) ([]domain.Winner, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
