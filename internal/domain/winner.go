package domain

import (
	"fmt"
	"time"
)

// Winner es un resultado resuelto de una ronda: un ticket premiado en el
// sorteo, o una apuesta ganadora en predicción. La identidad compuesta
// (RoundID, TicketNumber, SourceChainID) es única — un ticket nunca se
// registra dos veces para la misma ronda y el mismo origen.
type Winner struct {
	Domain       string
	RoundID      uint64
	TicketNumber uint64
	Owner        string
	PrizeAmount  float64
	Claimed      bool
	// SourceChainID identifica la chain de origen en compras cross-chain.
	// Vacío si la compra fue local.
	SourceChainID string
	CreatedAt     *time.Time
}

// Key devuelve la identidad compuesta como string, usable como clave de
// deduplicación en memoria.
func (w Winner) Key() string {
	return fmt.Sprintf("%d:%d:%s", w.RoundID, w.TicketNumber, w.SourceChainID)
}
