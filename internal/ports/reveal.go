package ports

import (
	"context"

	"github.com/winzalabs/chainsync/internal/domain"
)

// RevealSink recibe los winners ya pautados, de a uno, en el orden que
// decide el scheduler. En la implementación de consola imprime cada
// reveal y resúmenes de ronda.
type RevealSink interface {
	// Reveal presenta un winner. pending es el backlog restante tras este.
	Reveal(ctx context.Context, w domain.Winner, pending int) error

	// RoundSummary presenta el estado de una ronda al seleccionarla.
	RoundSummary(ctx context.Context, r domain.Round) error
}
