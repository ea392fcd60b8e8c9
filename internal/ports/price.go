package ports

import "context"

// PriceSource provee el precio de referencia que las mutations de cierre y
// resolución del dominio de predicción necesitan. La integración real de
// market-data vive fuera de este subsistema; esto es solo el contrato.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (float64, error)
}
