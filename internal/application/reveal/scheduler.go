package reveal

// scheduler.go — pacing de la revelación de winners.
//
// Los winners llegan a la cache en ráfagas desordenadas; la presentación
// los consume de a uno con una cadencia legible. El primer batch de una
// ronda recién seleccionada muestra el más nuevo al instante (no hay nada
// que recuperar todavía) y encola el resto; después, todo arribo nuevo va
// al backlog en orden de creación y un timer lo drena de a un item, más
// rápido cuanto más backlog hay.

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/winzalabs/chainsync/internal/domain"
	"github.com/winzalabs/chainsync/internal/ports"
)

// Config controla la cadencia del drenaje.
type Config struct {
	// PollInterval es la frecuencia de lectura de la cache.
	PollInterval time.Duration

	// Tiers de drenaje según profundidad del backlog: por encima de
	// FastThreshold se drena con FastDelay, por encima de MidThreshold
	// con MidDelay, y BaseDelay es la cadencia deliberada por defecto.
	FastThreshold int
	FastDelay     time.Duration
	MidThreshold  int
	MidDelay      time.Duration
	BaseDelay     time.Duration
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		FastThreshold: 5,
		FastDelay:     500 * time.Millisecond,
		MidThreshold:  2,
		MidDelay:      1500 * time.Millisecond,
		BaseDelay:     3000 * time.Millisecond,
	}
}

// Scheduler pauta los reveals de la ronda mostrada de un dominio.
// Independiente del ledger: solo lee la cache y escribe en el sink.
type Scheduler struct {
	dom   string
	cache ports.Cache
	sink  ports.RevealSink
	cfg   Config

	// Estado de la ronda mostrada; se resetea entero al cambiar de ronda.
	roundID  uint64
	selected bool
	seen     map[string]bool
	backlog  []domain.Winner
	current  *domain.Winner
}

// New crea el scheduler de un dominio.
func New(dom string, cache ports.Cache, sink ports.RevealSink, cfg Config) *Scheduler {
	return &Scheduler{
		dom:   dom,
		cache: cache,
		sink:  sink,
		cfg:   cfg,
		seen:  make(map[string]bool),
	}
}

// Run sigue la ronda más reciente de la cache y drena el backlog hasta
// que el contexto se cancele.
func (s *Scheduler) Run(ctx context.Context) {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	// El drain timer se crea parado y se arma solo con backlog pendiente.
	// Siempre se para antes de rearmarlo: nunca hay dos timers vivos.
	drain := time.NewTimer(time.Hour)
	if !drain.Stop() {
		<-drain.C
	}
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reveal scheduler stopped", "domain", s.dom)
			return
		case <-poll.C:
			hadBacklog := len(s.backlog) > 0
			if s.pollOnce(ctx) {
				// Cambio de ronda: el drain armado para la anterior
				// muere con ella.
				disarm(drain)
				hadBacklog = false
			}
			if !hadBacklog && len(s.backlog) > 0 {
				s.arm(drain)
			}
		case <-drain.C:
			s.DrainOne(ctx)
			if len(s.backlog) > 0 {
				s.arm(drain)
			}
		}
	}
}

func (s *Scheduler) arm(drain *time.Timer) {
	disarm(drain)
	drain.Reset(s.NextDelay())
}

func disarm(drain *time.Timer) {
	if !drain.Stop() {
		select {
		case <-drain.C:
		default:
		}
	}
}

// pollOnce sincroniza el estado con la cache: cambia de ronda si hay una
// más nueva y ofrece los winners acumulados. Devuelve true si cambió la
// ronda mostrada.
func (s *Scheduler) pollOnce(ctx context.Context) (switched bool) {
	rounds, err := s.cache.ListRounds(ctx, s.dom)
	if err != nil || len(rounds) == 0 {
		return false
	}

	top := rounds[0]
	if !s.selected || top.ID != s.roundID {
		s.SetRound(ctx, top)
		switched = true
	}

	winners, err := s.cache.ListWinners(ctx, s.dom, s.roundID)
	if err != nil {
		return switched
	}
	s.Offer(ctx, winners)
	return switched
}

// SetRound selecciona la ronda mostrada y resetea todo el estado de
// reveal: seen-set, backlog, item actual. El drain armado lo cancela el
// loop de Run al detectar el cambio.
func (s *Scheduler) SetRound(ctx context.Context, r domain.Round) {
	s.roundID = r.ID
	s.selected = true
	s.seen = make(map[string]bool)
	s.backlog = nil
	s.current = nil

	slog.Info("displaying round", "domain", s.dom, "round", r.ID, "status", r.Status)
	if err := s.sink.RoundSummary(ctx, r); err != nil {
		slog.Warn("round summary failed", "domain", s.dom, "err", err)
	}
}

// Offer entrega un batch de winners observados. Deduplica contra el
// seen-set; en el primer batch de la ronda revela el más nuevo al
// instante y encola el resto, después todo arribo nuevo va al backlog en
// orden de creación (más viejo primero).
func (s *Scheduler) Offer(ctx context.Context, winners []domain.Winner) {
	var fresh []domain.Winner
	for _, w := range winners {
		if s.seen[w.Key()] {
			continue
		}
		s.seen[w.Key()] = true
		fresh = append(fresh, w)
	}
	if len(fresh) == 0 {
		return
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return winnerBefore(fresh[i], fresh[j])
	})

	firstBatch := s.current == nil && len(s.backlog) == 0
	if firstBatch {
		newest := fresh[len(fresh)-1]
		s.reveal(ctx, newest, len(fresh)-1)
		fresh = fresh[:len(fresh)-1]
	}

	s.backlog = append(s.backlog, fresh...)
}

// DrainOne saca el item más viejo del backlog y lo revela. No-op con
// backlog vacío.
func (s *Scheduler) DrainOne(ctx context.Context) {
	if len(s.backlog) == 0 {
		return
	}
	next := s.backlog[0]
	s.backlog = s.backlog[1:]
	s.reveal(ctx, next, len(s.backlog))
}

// NextDelay devuelve el intervalo hasta el próximo reveal según la
// profundidad actual del backlog.
func (s *Scheduler) NextDelay() time.Duration {
	switch depth := len(s.backlog); {
	case depth > s.cfg.FastThreshold:
		return s.cfg.FastDelay
	case depth > s.cfg.MidThreshold:
		return s.cfg.MidDelay
	default:
		return s.cfg.BaseDelay
	}
}

// Backlog devuelve la cantidad de reveals pendientes.
func (s *Scheduler) Backlog() int {
	return len(s.backlog)
}

func (s *Scheduler) reveal(ctx context.Context, w domain.Winner, pending int) {
	s.current = &w
	if err := s.sink.Reveal(ctx, w, pending); err != nil {
		slog.Warn("reveal failed", "domain", s.dom, "key", w.Key(), "err", err)
	}
}

// winnerBefore ordena por created_at ascendente, con el número de ticket
// como desempate estable.
func winnerBefore(a, b domain.Winner) bool {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return a.TicketNumber < b.TicketNumber
	case a.CreatedAt == nil:
		return true
	case b.CreatedAt == nil:
		return false
	case a.CreatedAt.Equal(*b.CreatedAt):
		return a.TicketNumber < b.TicketNumber
	default:
		return a.CreatedAt.Before(*b.CreatedAt)
	}
}
