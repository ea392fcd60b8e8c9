package linera

// queries.go — adapter por dominio sobre los endpoints GraphQL de las apps.
//
// Implementa los ports de lectura (RoundProvider, WinnerProvider) y de
// escritura (RoundWriter, TicketBuyer). La asimetría es deliberada:
//   - lecturas: cualquier fallo degrada a resultado vacío con log en debug,
//     el siguiente poll reintenta solo.
//   - escrituras: los fallos se propagan, la política de retry es del caller.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/winzalabs/chainsync/internal/domain"
	"github.com/winzalabs/chainsync/internal/ports"
)

const (
	lotteryRoundFields    = "id createdAt closedAt status ticketPrice totalTicketsSold prizePool"
	predictionRoundFields = "id createdAt closedAt resolvedAt status closingPrice resolutionPrice " +
		"upBets downBets upBetsPool downBetsPool prizePool"
)

// AppConfig identifica el endpoint de la app de rondas de un dominio y,
// si la compra está habilitada, el endpoint y la cuenta para comprar.
type AppConfig struct {
	Domain  string
	Variant domain.Variant

	// Endpoint es /chains/{chainId}/applications/{appId} de la app de rondas.
	Endpoint string

	// PurchaseEndpoint es el endpoint de la app que recibe la compra:
	// la app companion de lotería (transfer) o la misma app de rondas
	// (placeBet). Vacío deshabilita la compra.
	PurchaseEndpoint string
	// Owner es la cuenta que compra tickets / apuesta.
	Owner string
	// Amount es el monto por compra, como string decimal del ledger.
	Amount string
	// Prediction es "UP" o "DOWN" para placeBet.
	Prediction string
}

// App ejecuta las queries y mutations de un dominio concreto.
type App struct {
	client *Client
	prices ports.PriceSource
	cfg    AppConfig
}

// NewApp crea el adapter del dominio. prices puede ser nil para dominios
// de sorteo, que no necesitan precio de cierre.
func NewApp(client *Client, prices ports.PriceSource, cfg AppConfig) *App {
	return &App{client: client, prices: prices, cfg: cfg}
}

func (a *App) roundFields() string {
	if a.cfg.Variant == domain.VariantPrediction {
		return predictionRoundFields
	}
	return lotteryRoundFields
}

// --- camino de lectura ---

// ActiveRound devuelve la ronda activa, o nil si no hay o el ledger no responde.
func (a *App) ActiveRound(ctx context.Context) (*domain.Round, error) {
	query := fmt.Sprintf("query { activeRound { %s } }", a.roundFields())
	res, err := a.client.Execute(ctx, a.cfg.Endpoint, query)
	if err != nil {
		slog.Debug("activeRound unavailable", "domain", a.cfg.Domain, "err", err)
		return nil, nil
	}
	node := res.Get("activeRound")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, nil
	}
	r := a.roundFrom(node)
	return &r, nil
}

// ClosedRound devuelve la ronda CLOSED más reciente, o nil.
// El ledger no expone una query directa; se filtra sobre allRounds.
func (a *App) ClosedRound(ctx context.Context) (*domain.Round, error) {
	rounds, err := a.AllRounds(ctx)
	if err != nil {
		return nil, nil
	}
	var newest *domain.Round
	for i := range rounds {
		r := &rounds[i]
		if r.Status != domain.StatusClosed {
			continue
		}
		if newest == nil || r.ID > newest.ID {
			newest = r
		}
	}
	if newest == nil {
		return nil, nil
	}
	r := *newest
	return &r, nil
}

// Round devuelve una ronda por id, o nil.
func (a *App) Round(ctx context.Context, id uint64) (*domain.Round, error) {
	query := fmt.Sprintf("query { round(id: %d) { %s } }", id, a.roundFields())
	res, err := a.client.Execute(ctx, a.cfg.Endpoint, query)
	if err != nil {
		slog.Debug("round unavailable", "domain", a.cfg.Domain, "id", id, "err", err)
		return nil, nil
	}
	node := res.Get("round")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, nil
	}
	r := a.roundFrom(node)
	return &r, nil
}

// AllRounds devuelve todas las rondas que el ledger conserva.
func (a *App) AllRounds(ctx context.Context) ([]domain.Round, error) {
	query := fmt.Sprintf("query { allRounds { %s } }", a.roundFields())
	res, err := a.client.Execute(ctx, a.cfg.Endpoint, query)
	if err != nil {
		slog.Debug("allRounds unavailable", "domain", a.cfg.Domain, "err", err)
		return nil, nil
	}
	var rounds []domain.Round
	res.Get("allRounds").ForEach(func(_, node gjson.Result) bool {
		rounds = append(rounds, a.roundFrom(node))
		return true
	})
	return rounds, nil
}

// RoundWinners devuelve los winners de la ronda, vacío si no hay datos.
func (a *App) RoundWinners(ctx context.Context, roundID uint64) ([]domain.Winner, error) {
	fields := "ticketNumber owner prizeAmount claimed sourceChainId"
	if a.cfg.Variant == domain.VariantPrediction {
		fields = "owner betAmount prizeAmount won sourceChainId"
	}
	query := fmt.Sprintf("query { roundWinners(roundId: %d) { %s } }", roundID, fields)
	res, err := a.client.Execute(ctx, a.cfg.Endpoint, query)
	if err != nil {
		slog.Debug("roundWinners unavailable", "domain", a.cfg.Domain, "round", roundID, "err", err)
		return nil, nil
	}
	var winners []domain.Winner
	res.Get("roundWinners").ForEach(func(idx, node gjson.Result) bool {
		winners = append(winners, a.winnerFrom(roundID, uint64(idx.Int()), node))
		return true
	})
	return winners, nil
}

// --- camino de escritura ---

// CloseRound cierra la ronda activa. En predicción el cierre lleva el
// precio actual del PriceSource.
func (a *App) CloseRound(ctx context.Context) error {
	mutation := "mutation { closeRound }"
	if a.cfg.Variant == domain.VariantPrediction {
		price, err := a.prices.CurrentPrice(ctx)
		if err != nil {
			return fmt.Errorf("linera.CloseRound: price source: %w", err)
		}
		mutation = fmt.Sprintf("mutation { closeRound(closingPrice: %q) }", formatAmount(price))
	}
	if _, err := a.client.Execute(ctx, a.cfg.Endpoint, mutation); err != nil {
		return fmt.Errorf("linera.CloseRound: domain %s: %w", a.cfg.Domain, err)
	}
	return nil
}

// ResolveRound fuerza un paso de resolución: generateWinner saca un winner
// más del pool en sorteo; resolveRound liquida la ronda en predicción.
func (a *App) ResolveRound(ctx context.Context, roundID uint64) error {
	mutation := fmt.Sprintf("mutation { generateWinner(roundId: %d) }", roundID)
	if a.cfg.Variant == domain.VariantPrediction {
		price, err := a.prices.CurrentPrice(ctx)
		if err != nil {
			return fmt.Errorf("linera.ResolveRound: price source: %w", err)
		}
		mutation = fmt.Sprintf("mutation { resolveRound(resolutionPrice: %q) }", formatAmount(price))
	}
	if _, err := a.client.Execute(ctx, a.cfg.Endpoint, mutation); err != nil {
		return fmt.Errorf("linera.ResolveRound: domain %s round %d: %w", a.cfg.Domain, roundID, err)
	}
	return nil
}

// PurchaseTickets envía la compra para la ronda activa. El ledger no
// dedupe reintentos: un retry tras una respuesta perdida puede comprar
// dos veces.
func (a *App) PurchaseTickets(ctx context.Context, roundID uint64) error {
	if a.cfg.PurchaseEndpoint == "" {
		return fmt.Errorf("linera.PurchaseTickets: domain %s: no purchase endpoint configured", a.cfg.Domain)
	}

	var mutation string
	if a.cfg.Variant == domain.VariantPrediction {
		mutation = fmt.Sprintf(
			"mutation { placeBet(owner: %q, amount: %q, prediction: %s) }",
			a.cfg.Owner, a.cfg.Amount, a.cfg.Prediction,
		)
	} else {
		mutation = fmt.Sprintf(
			"mutation { transfer(owner: %q, amount: %q) }",
			a.cfg.Owner, a.cfg.Amount,
		)
	}
	if _, err := a.client.Execute(ctx, a.cfg.PurchaseEndpoint, mutation); err != nil {
		return fmt.Errorf("linera.PurchaseTickets: domain %s round %d: %w", a.cfg.Domain, roundID, err)
	}
	return nil
}

// --- mapping ---

func (a *App) roundFrom(node gjson.Result) domain.Round {
	return domain.Round{
		Domain:           a.cfg.Domain,
		ID:               node.Get("id").Uint(),
		Status:           domain.RoundStatus(strings.ToUpper(node.Get("status").String())),
		PrizePool:        node.Get("prizePool").Float(),
		TicketPrice:      node.Get("ticketPrice").Float(),
		TotalTicketsSold: node.Get("totalTicketsSold").Uint(),
		ClosingPrice:     node.Get("closingPrice").Float(),
		ResolutionPrice:  node.Get("resolutionPrice").Float(),
		UpBets:           node.Get("upBets").Uint(),
		DownBets:         node.Get("downBets").Uint(),
		UpBetsPool:       node.Get("upBetsPool").Float(),
		DownBetsPool:     node.Get("downBetsPool").Float(),
		CreatedAt:        domain.NormalizeTimestamp(node.Get("createdAt").Float()),
		ClosedAt:         domain.NormalizeTimestamp(node.Get("closedAt").Float()),
		ResolvedAt:       domain.NormalizeTimestamp(node.Get("resolvedAt").Float()),
	}
}

// winnerFrom mapea un winner del ledger. En predicción no hay número de
// ticket: se usa la posición en la lista, que el ledger mantiene estable.
func (a *App) winnerFrom(roundID, idx uint64, node gjson.Result) domain.Winner {
	ticket := node.Get("ticketNumber").Uint()
	if a.cfg.Variant == domain.VariantPrediction {
		ticket = idx
	}
	return domain.Winner{
		Domain:        a.cfg.Domain,
		RoundID:       roundID,
		TicketNumber:  ticket,
		Owner:         node.Get("owner").String(),
		PrizeAmount:   node.Get("prizeAmount").Float(),
		Claimed:       node.Get("claimed").Bool(),
		SourceChainID: node.Get("sourceChainId").String(),
	}
}

// formatAmount escribe el precio como decimal plano, el formato Amount
// que esperan las mutations del ledger.
func formatAmount(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}
