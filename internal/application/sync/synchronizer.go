package sync

// synchronizer.go — espejo idempotente del ledger en la cache local.
//
// Cada pasada hace fetch del set autoritativo de rondas y winners y lo
// aplica con la disciplina lookup→create→fallback-update: si el create
// pierde la carrera contra otro writer (ErrDuplicate), se re-busca y se
// actualiza. Eso hace la pasada segura bajo synchronizers concurrentes
// del mismo dominio sin ningún lock.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/winzalabs/chainsync/internal/domain"
	"github.com/winzalabs/chainsync/internal/ports"
)

// Config controla el loop del synchronizer.
type Config struct {
	// PollInterval es el fallback periódico, independiente de las señales.
	PollInterval time.Duration
	// Retention es el K de rondas a conservar por partición.
	Retention int
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Retention:    5,
	}
}

// Result resume una pasada de sync.
type Result struct {
	Created int
	Updated int
}

// Synchronizer mantiene la partición de un dominio al día.
type Synchronizer struct {
	dom     string
	variant domain.Variant
	rounds  ports.RoundProvider
	winners ports.WinnerProvider
	cache   ports.Cache
	cfg     Config
	now     func() time.Time
}

// New crea el synchronizer de un dominio.
func New(dom string, variant domain.Variant, rounds ports.RoundProvider, winners ports.WinnerProvider, cache ports.Cache, cfg Config) *Synchronizer {
	return &Synchronizer{
		dom:     dom,
		variant: variant,
		rounds:  rounds,
		winners: winners,
		cache:   cache,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run ejecuta pasadas de sync hasta que el contexto se cancele: una al
// arrancar, una por señal del socket y una por tick del fallback. Ninguna
// pasada fallida mata el loop.
func (s *Synchronizer) Run(ctx context.Context, signals <-chan struct{}) {
	s.runPass(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("synchronizer stopped", "domain", s.dom)
			return
		case <-signals:
			s.runPass(ctx)
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Synchronizer) runPass(ctx context.Context) {
	start := time.Now()
	res, err := s.Sync(ctx)
	if err != nil {
		slog.Warn("sync pass failed", "domain", s.dom, "err", err)
		return
	}
	if res.Created > 0 || res.Updated > 0 {
		slog.Info("sync pass complete",
			"domain", s.dom,
			"created", res.Created,
			"updated", res.Updated,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

// Sync hace una pasada completa: upsert de rondas y winners, luego
// retención. Devuelve cuántas filas se crearon y actualizaron.
func (s *Synchronizer) Sync(ctx context.Context) (Result, error) {
	var res Result

	rounds, err := s.rounds.AllRounds(ctx)
	if err != nil {
		return res, fmt.Errorf("sync.Sync: fetch rounds: %w", err)
	}

	for _, r := range rounds {
		r.Domain = s.dom
		created, updated, err := s.upsertRound(ctx, r)
		if err != nil {
			slog.Warn("round upsert failed", "domain", s.dom, "round", r.ID, "err", err)
			continue
		}
		if created {
			res.Created++
		}
		if updated {
			res.Updated++
		}

		// Las rondas activas todavía no tienen winners que mirar.
		if r.Status == domain.StatusActive {
			continue
		}
		c, u := s.syncWinners(ctx, r.ID)
		res.Created += c
		res.Updated += u
	}

	s.enforceRetention(ctx)
	return res, nil
}

// upsertRound aplica una ronda con la disciplina lookup→create→fallback.
func (s *Synchronizer) upsertRound(ctx context.Context, r domain.Round) (created, updated bool, err error) {
	cur, err := s.cache.FindRound(ctx, s.dom, r.ID)
	if errors.Is(err, ports.ErrNotFound) {
		cerr := s.cache.CreateRound(ctx, r)
		if cerr == nil {
			return true, false, nil
		}
		if !errors.Is(cerr, ports.ErrDuplicate) {
			return false, false, cerr
		}
		// Otro writer ganó la carrera entre el lookup y el create. El
		// fallback repite el lookup: la fila que perdimos puede estar más
		// avanzada que esta observación, y las guardas de abajo aplican
		// igual que en el camino normal.
		cur, err = s.cache.FindRound(ctx, s.dom, r.ID)
	}
	if err != nil {
		return false, false, err
	}

	// El estado nunca retrocede: una respuesta vieja del ledger no puede
	// pisar un estado más avanzado ya cacheado.
	if cur.MovesBackward(r.Status, s.variant) {
		slog.Warn("stale round status ignored",
			"domain", s.dom, "round", r.ID,
			"cached", cur.Status, "incoming", r.Status,
		)
		return false, false, nil
	}
	if !roundChanged(cur, r) {
		return false, false, nil
	}
	if err := s.cache.UpdateRound(ctx, r); err != nil {
		return false, false, err
	}
	return false, true, nil
}

// syncWinners aplica los winners de una ronda. Best-effort: los fallos
// individuales se loguean y no interrumpen la pasada.
func (s *Synchronizer) syncWinners(ctx context.Context, roundID uint64) (created, updated int) {
	winners, err := s.winners.RoundWinners(ctx, roundID)
	if err != nil {
		slog.Debug("winners fetch failed", "domain", s.dom, "round", roundID, "err", err)
		return 0, 0
	}

	for _, w := range winners {
		w.Domain = s.dom
		cur, err := s.cache.FindWinner(ctx, s.dom, w.RoundID, w.TicketNumber, w.SourceChainID)
		if errors.Is(err, ports.ErrNotFound) {
			stamped := w
			if stamped.CreatedAt == nil {
				now := s.now().UTC()
				stamped.CreatedAt = &now
			}
			cerr := s.cache.CreateWinner(ctx, stamped)
			if cerr == nil {
				created++
				continue
			}
			if !errors.Is(cerr, ports.ErrDuplicate) {
				slog.Warn("winner create failed", "domain", s.dom, "key", w.Key(), "err", cerr)
				continue
			}
			// Otro writer creó el winner entre el lookup y el create: su
			// created_at de primera observación manda, así que se repite
			// el lookup antes de actualizar.
			cur, err = s.cache.FindWinner(ctx, s.dom, w.RoundID, w.TicketNumber, w.SourceChainID)
		}
		if err != nil {
			slog.Warn("winner lookup failed", "domain", s.dom, "key", w.Key(), "err", err)
			continue
		}

		// created_at lo estampa la cache en la primera observación.
		w.CreatedAt = cur.CreatedAt
		if !winnerChanged(cur, w) {
			continue
		}
		if err := s.cache.UpdateWinner(ctx, w); err != nil {
			slog.Warn("winner update failed", "domain", s.dom, "key", w.Key(), "err", err)
			continue
		}
		updated++
	}
	return created, updated
}

// enforceRetention borra lo que exceda las K rondas más recientes de la
// partición. Best-effort: un borrado fallido se loguea y se reintenta en
// la próxima pasada.
func (s *Synchronizer) enforceRetention(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	rounds, err := s.cache.ListRounds(ctx, s.dom)
	if err != nil {
		slog.Warn("retention list failed", "domain", s.dom, "err", err)
		return
	}
	for _, r := range rounds[min(s.cfg.Retention, len(rounds)):] {
		if err := s.cache.DeleteRound(ctx, s.dom, r.ID); err != nil {
			slog.Warn("retention delete failed", "domain", s.dom, "round", r.ID, "err", err)
			continue
		}
		slog.Debug("round pruned", "domain", s.dom, "round", r.ID)
	}
}

// --- change detection ---

func roundChanged(cur, next domain.Round) bool {
	return cur.Status != next.Status ||
		cur.PrizePool != next.PrizePool ||
		cur.TicketPrice != next.TicketPrice ||
		cur.TotalTicketsSold != next.TotalTicketsSold ||
		cur.ClosingPrice != next.ClosingPrice ||
		cur.ResolutionPrice != next.ResolutionPrice ||
		cur.UpBets != next.UpBets ||
		cur.DownBets != next.DownBets ||
		cur.UpBetsPool != next.UpBetsPool ||
		cur.DownBetsPool != next.DownBetsPool ||
		!timeEq(cur.ClosedAt, next.ClosedAt) ||
		!timeEq(cur.ResolvedAt, next.ResolvedAt)
}

func winnerChanged(cur, next domain.Winner) bool {
	return cur.Owner != next.Owner ||
		cur.PrizeAmount != next.PrizeAmount ||
		cur.Claimed != next.Claimed
}

func timeEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
