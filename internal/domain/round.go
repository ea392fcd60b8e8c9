package domain

import "time"

// Variant identifica el tipo de ciclo de vida de un dominio.
// Cada dominio (instancia de lotería o mercado de predicción) corre
// un ciclo independiente con su propio orden de estados.
type Variant string

const (
	// VariantLottery es el ciclo de sorteo: se venden tickets, se cierra
	// la ronda y se generan ganadores uno a uno hasta completar los pools.
	VariantLottery Variant = "lottery"
	// VariantPrediction es el ciclo up/down: se apuesta contra un precio
	// de cierre y la ronda se resuelve contra el precio de resolución.
	VariantPrediction Variant = "prediction"
)

// RoundStatus es el estado de una ronda según el ledger.
type RoundStatus string

const (
	StatusActive   RoundStatus = "ACTIVE"
	StatusClosed   RoundStatus = "CLOSED"
	StatusDrawing  RoundStatus = "DRAWING"
	StatusComplete RoundStatus = "COMPLETE"
	StatusResolved RoundStatus = "RESOLVED"
)

// statusOrder define el orden monótono de estados por variante.
// Una ronda nunca retrocede en este orden: si la cache tiene un estado
// posterior al que llega del ledger, la observación nueva se descarta.
var statusOrder = map[Variant][]RoundStatus{
	VariantLottery:    {StatusActive, StatusClosed, StatusDrawing, StatusComplete},
	VariantPrediction: {StatusActive, StatusClosed, StatusResolved},
}

// Rank devuelve la posición del estado en el orden de la variante,
// o -1 si el estado no pertenece a esa variante.
func (s RoundStatus) Rank(v Variant) int {
	for i, st := range statusOrder[v] {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal devuelve true si el estado es el último del ciclo de la variante.
func (s RoundStatus) Terminal(v Variant) bool {
	order := statusOrder[v]
	return len(order) > 0 && s == order[len(order)-1]
}

// TerminalStatus devuelve el estado terminal de la variante.
func (v Variant) TerminalStatus() RoundStatus {
	order := statusOrder[v]
	return order[len(order)-1]
}

// Round es el espejo local de una ronda del ledger.
// La identidad es (Domain, ID); el ledger es el único autor — este
// subsistema solo la lee y la copia a la cache.
type Round struct {
	Domain string
	ID     uint64
	Status RoundStatus

	// Campos numéricos del sorteo
	PrizePool        float64
	TicketPrice      float64
	TotalTicketsSold uint64

	// Campos numéricos de predicción
	ClosingPrice    float64
	ResolutionPrice float64
	UpBets          uint64
	DownBets        uint64
	UpBetsPool      float64
	DownBetsPool    float64

	CreatedAt  *time.Time
	ClosedAt   *time.Time
	ResolvedAt *time.Time
}

// MovesBackward devuelve true si pasar del estado actual a next
// violaría la monotonía del ciclo de la variante.
func (r Round) MovesBackward(next RoundStatus, v Variant) bool {
	cur := r.Status.Rank(v)
	nxt := next.Rank(v)
	return cur >= 0 && nxt >= 0 && nxt < cur
}
