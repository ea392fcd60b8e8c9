package purchase

// agent.go — compra reactiva de tickets al detectar una ronda activa nueva.
//
// Guardas contra duplicados, en orden:
//   1. id no estrictamente mayor que el último procesado → se ignora,
//      aunque el ledger la reporte ACTIVE de nuevo.
//   2. ronda ya comprada → se ignora.
//   3. ronda con compra en vuelo → se ignora.
// El retry es acotado a propósito: una ronda puede cerrarse mientras
// reintentamos, y comprar contra una ronda cerrada ya no tiene sentido.

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/winzalabs/chainsync/internal/ports"
)

// Config controla el retry y el throttling del agente.
type Config struct {
	// MaxAttempts es el tope de intentos de la tanda inicial.
	MaxAttempts int
	// RetryBase escala el backoff lineal: delay = RetryBase × attempt.
	RetryBase time.Duration
	// RecheckDelay es la espera del único re-chequeo tras agotar la tanda.
	RecheckDelay time.Duration
	// MinTriggerInterval acota la frecuencia de consultas por señal, para
	// no amplificar ráfagas de notificaciones en ráfagas de queries.
	MinTriggerInterval time.Duration
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		RetryBase:          2 * time.Second,
		RecheckDelay:       60 * time.Second,
		MinTriggerInterval: 5 * time.Second,
	}
}

// Agent compra tickets en cada ronda activa nueva de un dominio. Todo el
// estado de guarda vive en la instancia — nada global — así varios
// dominios conviven en el mismo proceso sin pisarse.
type Agent struct {
	dom    string
	rounds ports.RoundProvider
	buyer  ports.TicketBuyer
	cfg    Config

	throttle *rate.Limiter
	sleep    func(context.Context, time.Duration) bool

	lastProcessed uint64
	purchased     map[uint64]bool
	inflight      map[uint64]bool
}

// New crea el agente de un dominio.
func New(dom string, rounds ports.RoundProvider, buyer ports.TicketBuyer, cfg Config) *Agent {
	return &Agent{
		dom:       dom,
		rounds:    rounds,
		buyer:     buyer,
		cfg:       cfg,
		throttle:  rate.NewLimiter(rate.Every(cfg.MinTriggerInterval), 1),
		sleep:     sleepCtx,
		purchased: make(map[uint64]bool),
		inflight:  make(map[uint64]bool),
	}
}

// Run procesa triggers (señales del socket más un poll periódico) hasta
// que el contexto se cancele.
func (a *Agent) Run(ctx context.Context, signals <-chan struct{}) {
	a.Check(ctx)

	ticker := time.NewTicker(a.cfg.MinTriggerInterval * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("purchase agent stopped", "domain", a.dom)
			return
		case <-signals:
			a.Check(ctx)
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}

// Check es un trigger: consulta la ronda activa y, si es nueva, compra.
// Throttled: triggers más frecuentes que MinTriggerInterval se descartan
// sin consultar.
func (a *Agent) Check(ctx context.Context) {
	if !a.throttle.Allow() {
		return
	}

	round, err := a.rounds.ActiveRound(ctx)
	if err != nil || round == nil {
		return
	}

	if round.ID <= a.lastProcessed {
		return
	}
	if a.purchased[round.ID] || a.inflight[round.ID] {
		return
	}

	a.inflight[round.ID] = true
	defer delete(a.inflight, round.ID)

	if a.buyWithRetry(ctx, round.ID) {
		a.markPurchased(round.ID)
		return
	}

	// Tanda agotada: exactamente un re-chequeo diferido, que re-valida
	// que la ronda siga activa antes del intento final.
	a.recheck(ctx, round.ID)
}

// buyWithRetry hace hasta MaxAttempts intentos con backoff lineal.
// Devuelve true en cuanto uno tiene éxito — nunca hay un intento de más.
func (a *Agent) buyWithRetry(ctx context.Context, roundID uint64) bool {
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if err := a.buyer.PurchaseTickets(ctx, roundID); err == nil {
			slog.Info("tickets purchased", "domain", a.dom, "round", roundID, "attempt", attempt)
			return true
		} else {
			slog.Warn("purchase attempt failed",
				"domain", a.dom, "round", roundID,
				"attempt", attempt, "max", a.cfg.MaxAttempts, "err", err)
		}

		if attempt < a.cfg.MaxAttempts {
			if !a.sleep(ctx, a.cfg.RetryBase*time.Duration(attempt)) {
				return false
			}
		}
	}
	return false
}

// recheck espera RecheckDelay, re-valida que la misma ronda siga activa y
// hace un único intento final. Si también falla, la ronda se abandona.
func (a *Agent) recheck(ctx context.Context, roundID uint64) {
	slog.Info("purchase retries exhausted, scheduling one recheck",
		"domain", a.dom, "round", roundID, "delay", a.cfg.RecheckDelay)

	if !a.sleep(ctx, a.cfg.RecheckDelay) {
		return
	}

	round, err := a.rounds.ActiveRound(ctx)
	if err != nil || round == nil || round.ID != roundID {
		slog.Info("round no longer active, abandoning purchase",
			"domain", a.dom, "round", roundID)
		a.markProcessed(roundID)
		return
	}

	if err := a.buyer.PurchaseTickets(ctx, roundID); err != nil {
		slog.Warn("final purchase attempt failed, round abandoned",
			"domain", a.dom, "round", roundID, "err", err)
		a.markProcessed(roundID)
		return
	}

	slog.Info("tickets purchased on recheck", "domain", a.dom, "round", roundID)
	a.markPurchased(roundID)
}

func (a *Agent) markPurchased(roundID uint64) {
	a.purchased[roundID] = true
	a.markProcessed(roundID)
}

func (a *Agent) markProcessed(roundID uint64) {
	if roundID > a.lastProcessed {
		a.lastProcessed = roundID
	}
}

// sleepCtx espera la duración respetando el contexto. Devuelve false si
// el contexto se canceló antes.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
