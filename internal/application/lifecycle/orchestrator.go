package lifecycle

// orchestrator.go — máquina de estados del ciclo de rondas de un dominio.
//
//	IDLE → CLOSING → AWAITING_CLOSED → GENERATING → COMPLETE → (idle) → IDLE
//
// El path de escritura del ledger no es confiable: cerrar puede fallar
// porque no hay ronda activa (no es error del ciclo), y la resolución se
// reintenta sin tope porque el proceso externo de resolución termina
// convergiendo — abandonar dejaría la ronda clavada para siempre.

import (
	"context"
	"log/slog"
	"time"

	"github.com/winzalabs/chainsync/internal/domain"
	"github.com/winzalabs/chainsync/internal/ports"
)

// Config controla los tiempos del ciclo.
type Config struct {
	// AwaitClosedTimeout acota la espera de que el cierre sea observable.
	AwaitClosedTimeout time.Duration
	// ResolveInterval es el intervalo entre intentos de resolución.
	ResolveInterval time.Duration
	// IdleDelay es la pausa tras completar una ronda.
	IdleDelay time.Duration
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		AwaitClosedTimeout: 60 * time.Second,
		ResolveInterval:    10 * time.Second,
		IdleDelay:          5 * time.Minute,
	}
}

// Orchestrator corre el ciclo de un solo dominio. Solo un ciclo está en
// vuelo a la vez: las señales que llegan durante un ciclo quedan
// coalescadas en el buffer (capacidad 1) del canal y disparan exactamente
// una pasada más al terminar la actual.
type Orchestrator struct {
	dom     string
	variant domain.Variant
	rounds  ports.RoundProvider
	writer  ports.RoundWriter
	cfg     Config
}

// New crea el orchestrator de un dominio.
func New(dom string, variant domain.Variant, rounds ports.RoundProvider, writer ports.RoundWriter, cfg Config) *Orchestrator {
	return &Orchestrator{
		dom:     dom,
		variant: variant,
		rounds:  rounds,
		writer:  writer,
		cfg:     cfg,
	}
}

// Run ejecuta ciclos hasta que el contexto se cancele. Ningún fallo de
// una iteración mata el loop.
func (o *Orchestrator) Run(ctx context.Context, signals <-chan struct{}) {
	for {
		o.Cycle(ctx, signals)

		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopped", "domain", o.dom)
			return
		case <-time.After(o.cfg.IdleDelay):
		case <-signals:
			// Señal coalescada durante el ciclo anterior: una pasada más.
			slog.Debug("orchestrator re-triggered", "domain", o.dom)
		}
	}
}

// Cycle corre una pasada completa close→await→generate. Si no se observa
// ninguna ronda CLOSED dentro del timeout, la pasada termina sin resolver.
func (o *Orchestrator) Cycle(ctx context.Context, signals <-chan struct{}) {
	// CLOSING: el fallo no aborta — puede simplemente no haber ronda
	// activa que cerrar.
	if err := o.writer.CloseRound(ctx); err != nil {
		slog.Warn("close round failed, continuing cycle", "domain", o.dom, "err", err)
	}

	closed := o.awaitClosed(ctx, signals)
	if closed == nil {
		slog.Debug("no closed round this pass", "domain", o.dom)
		return
	}

	o.generate(ctx, signals, closed.ID)
}

// awaitClosed espera a que una ronda CLOSED sea observable: re-consulta
// ante cada señal y una última vez al vencer el timeout. Devuelve nil si
// el timeout vence sin ronda cerrada.
func (o *Orchestrator) awaitClosed(ctx context.Context, signals <-chan struct{}) *domain.Round {
	if r := o.queryClosed(ctx); r != nil {
		return r
	}

	deadline := time.NewTimer(o.cfg.AwaitClosedTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			// Fallback: una re-consulta final por si todas las señales
			// se perdieron.
			return o.queryClosed(ctx)
		case <-signals:
			if r := o.queryClosed(ctx); r != nil {
				return r
			}
		}
	}
}

func (o *Orchestrator) queryClosed(ctx context.Context) *domain.Round {
	r, err := o.rounds.ClosedRound(ctx)
	if err != nil || r == nil {
		return nil
	}
	return r
}

// generate reintenta la mutación de resolución a intervalo fijo hasta que
// la ronda alcance su estado terminal. Sin tope de intentos: cada fallo
// se loguea y se reintenta, el loop solo termina por convergencia o por
// cancelación del contexto.
func (o *Orchestrator) generate(ctx context.Context, signals <-chan struct{}, roundID uint64) {
	slog.Info("generating resolution", "domain", o.dom, "round", roundID)

	attempts := 0
	ticker := time.NewTicker(o.cfg.ResolveInterval)
	defer ticker.Stop()

	for {
		attempts++
		if err := o.writer.ResolveRound(ctx, roundID); err != nil {
			slog.Warn("resolve attempt failed, will retry",
				"domain", o.dom, "round", roundID, "attempt", attempts, "err", err)
		}

		if o.isTerminal(ctx, roundID) {
			slog.Info("round complete", "domain", o.dom, "round", roundID, "attempts", attempts)
			return
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				break wait
			case <-signals:
				// Una señal adelanta el chequeo de estado, pero la mutación
				// mantiene su intervalo fijo.
				if o.isTerminal(ctx, roundID) {
					slog.Info("round complete", "domain", o.dom, "round", roundID, "attempts", attempts)
					return
				}
			}
		}
	}
}

// isTerminal consulta el estado actual; una respuesta vacía cuenta como
// no-terminal y el loop sigue.
func (o *Orchestrator) isTerminal(ctx context.Context, roundID uint64) bool {
	r, err := o.rounds.Round(ctx, roundID)
	if err != nil || r == nil {
		return false
	}
	return r.Status.Terminal(o.variant)
}
