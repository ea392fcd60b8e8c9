// Package pricefeed contiene las implementaciones de ports.PriceSource.
// La integración real de market-data queda fuera de este subsistema; lo
// que hay acá alcanza para operar dominios de predicción sin ella.
package pricefeed

import "context"

// Static devuelve siempre el mismo precio. Útil para tests y para
// entornos donde el feed real todavía no está conectado.
type Static struct {
	Value float64
}

// CurrentPrice implementa ports.PriceSource.
func (s Static) CurrentPrice(_ context.Context) (float64, error) {
	return s.Value, nil
}
