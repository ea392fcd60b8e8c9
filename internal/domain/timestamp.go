package domain

import "time"

// timestamp.go — normalización de timestamps del ledger.
//
// El ledger emite timestamps como enteros sin unidad declarada: según el
// contrato pueden venir en segundos, milisegundos, microsegundos o
// nanosegundos. La magnitud del valor decide la conversión:
//
//	>= 1e17 → nanosegundos
//	>= 1e13 → microsegundos
//	>= 1e11 → milisegundos
//	>= 1e9  → segundos
//
// Valores por debajo de 1e9 (o <= 0) se tratan como ausentes y normalizan
// a nil. La heurística es ambigua cerca de los umbrales; los umbrales
// exactos están fijados aquí y cubiertos por tests.

const (
	tsNanosMin  = 1e17
	tsMicrosMin = 1e13
	tsMillisMin = 1e11
	tsSecsMin   = 1e9
)

// NormalizeTimestamp convierte un timestamp crudo del ledger a un instante
// UTC, o nil si el valor no es interpretable.
func NormalizeTimestamp(raw float64) *time.Time {
	if raw < tsSecsMin {
		return nil
	}

	var t time.Time
	switch {
	case raw >= tsNanosMin:
		t = time.Unix(0, int64(raw))
	case raw >= tsMicrosMin:
		t = time.UnixMicro(int64(raw))
	case raw >= tsMillisMin:
		t = time.UnixMilli(int64(raw))
	default:
		t = time.Unix(int64(raw), 0)
	}

	t = t.UTC()
	return &t
}
