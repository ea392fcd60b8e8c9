package reveal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winzalabs/chainsync/internal/adapters/storage"
	"github.com/winzalabs/chainsync/internal/application/reveal"
	"github.com/winzalabs/chainsync/internal/domain"
)

// sinkMock registra los reveals y summaries en orden.
type sinkMock struct {
	revealed  []domain.Winner
	pendings  []int
	times     []time.Time
	summaries []uint64
}

func (m *sinkMock) Reveal(ctx context.Context, w domain.Winner, pending int) error {
	m.revealed = append(m.revealed, w)
	m.pendings = append(m.pendings, pending)
	m.times = append(m.times, time.Now())
	return nil
}

func (m *sinkMock) RoundSummary(ctx context.Context, r domain.Round) error {
	m.summaries = append(m.summaries, r.ID)
	return nil
}

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func newScheduler(t *testing.T) (*reveal.Scheduler, *sinkMock, *storage.SQLiteCache) {
	t.Helper()
	cache, err := storage.NewSQLiteCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	sink := &sinkMock{}
	return reveal.New("lottery", cache, sink, reveal.DefaultConfig()), sink, cache
}

func TestFirstBatchRevealsNewestQueuesRest(t *testing.T) {
	sched, sink, _ := newScheduler(t)
	ctx := context.Background()

	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 9, Status: domain.StatusDrawing})

	// Llegan desordenados: A es el más nuevo, C el más viejo.
	sched.Offer(ctx, []domain.Winner{
		{Domain: "lottery", RoundID: 9, TicketNumber: 1, Owner: "A", CreatedAt: ts(5)},
		{Domain: "lottery", RoundID: 9, TicketNumber: 2, Owner: "B", CreatedAt: ts(3)},
		{Domain: "lottery", RoundID: 9, TicketNumber: 3, Owner: "C", CreatedAt: ts(1)},
	})

	// El más nuevo sale al instante; el resto queda en backlog.
	require.Len(t, sink.revealed, 1)
	assert.Equal(t, "A", sink.revealed[0].Owner)
	assert.Equal(t, 2, sink.pendings[0])
	assert.Equal(t, 2, sched.Backlog())

	// El drenaje sale del más viejo al más nuevo.
	sched.DrainOne(ctx)
	sched.DrainOne(ctx)
	require.Len(t, sink.revealed, 3)
	assert.Equal(t, "C", sink.revealed[1].Owner)
	assert.Equal(t, "B", sink.revealed[2].Owner)
	assert.Equal(t, 0, sched.Backlog())
}

func TestOfferDeduplicates(t *testing.T) {
	sched, sink, _ := newScheduler(t)
	ctx := context.Background()

	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 9, Status: domain.StatusDrawing})

	w := domain.Winner{Domain: "lottery", RoundID: 9, TicketNumber: 1, Owner: "A", CreatedAt: ts(1)}
	sched.Offer(ctx, []domain.Winner{w})
	sched.Offer(ctx, []domain.Winner{w}) // re-observado en el siguiente poll

	assert.Len(t, sink.revealed, 1)
	assert.Equal(t, 0, sched.Backlog())
}

func TestLaterArrivalsQueueWithoutInstantReveal(t *testing.T) {
	sched, sink, _ := newScheduler(t)
	ctx := context.Background()

	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 9, Status: domain.StatusDrawing})
	sched.Offer(ctx, []domain.Winner{
		{Domain: "lottery", RoundID: 9, TicketNumber: 1, Owner: "A", CreatedAt: ts(1)},
	})
	require.Len(t, sink.revealed, 1)

	// Segundo batch: ya no es el primero, todo va al backlog.
	sched.Offer(ctx, []domain.Winner{
		{Domain: "lottery", RoundID: 9, TicketNumber: 2, Owner: "B", CreatedAt: ts(2)},
		{Domain: "lottery", RoundID: 9, TicketNumber: 3, Owner: "C", CreatedAt: ts(3)},
	})
	assert.Len(t, sink.revealed, 1)
	assert.Equal(t, 2, sched.Backlog())
}

func TestSetRoundResetsState(t *testing.T) {
	sched, sink, _ := newScheduler(t)
	ctx := context.Background()

	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 9, Status: domain.StatusDrawing})
	sched.Offer(ctx, []domain.Winner{
		{Domain: "lottery", RoundID: 9, TicketNumber: 1, Owner: "A", CreatedAt: ts(1)},
		{Domain: "lottery", RoundID: 9, TicketNumber: 2, Owner: "B", CreatedAt: ts(2)},
	})
	require.Equal(t, 1, sched.Backlog())

	// Ronda nueva: backlog y seen-set mueren con la anterior.
	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 10, Status: domain.StatusDrawing})
	assert.Equal(t, 0, sched.Backlog())
	assert.Equal(t, []uint64{9, 10}, sink.summaries)

	// El primer batch de la ronda nueva vuelve a revelar al instante.
	sched.Offer(ctx, []domain.Winner{
		{Domain: "lottery", RoundID: 10, TicketNumber: 1, Owner: "D", CreatedAt: ts(9)},
	})
	require.Len(t, sink.revealed, 2)
	assert.Equal(t, "D", sink.revealed[1].Owner)
}

func TestNextDelayTiers(t *testing.T) {
	cfg := reveal.DefaultConfig()
	tests := []struct {
		name    string
		backlog int
		want    time.Duration
	}{
		{"deep backlog drains fast", 7, cfg.FastDelay},
		{"boundary of fast tier", 6, cfg.FastDelay},
		{"mid backlog", 4, cfg.MidDelay},
		{"boundary of mid tier", 3, cfg.MidDelay},
		{"shallow backlog", 2, cfg.BaseDelay},
		{"empty", 0, cfg.BaseDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, _, _ := newScheduler(t)
			ctx := context.Background()

			sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 1, Status: domain.StatusDrawing})
			var batch []domain.Winner
			for i := 0; i <= tt.backlog; i++ {
				batch = append(batch, domain.Winner{
					Domain: "lottery", RoundID: 1, TicketNumber: uint64(i), CreatedAt: ts(int64(i + 1)),
				})
			}
			if len(batch) > 0 {
				sched.Offer(ctx, batch) // el primero se revela, el resto encola
			}
			require.Equal(t, tt.backlog, sched.Backlog())

			assert.Equal(t, tt.want, sched.NextDelay())
		})
	}
}

func TestRoundSwitchCancelsPendingDrain(t *testing.T) {
	cache, err := storage.NewSQLiteCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	ctx, cancel := context.WithCancel(context.Background())

	sink := &sinkMock{}
	cfg := reveal.Config{
		PollInterval:  20 * time.Millisecond,
		FastThreshold: 5,
		FastDelay:     100 * time.Millisecond,
		MidThreshold:  2,
		MidDelay:      200 * time.Millisecond,
		BaseDelay:     400 * time.Millisecond,
	}
	sched := reveal.New("lottery", cache, sink, cfg)

	// Ronda 1 con dos winners: el primer poll revela uno y arma el drain
	// del otro a BaseDelay.
	require.NoError(t, cache.CreateRound(ctx, domain.Round{Domain: "lottery", ID: 1, Status: domain.StatusDrawing}))
	require.NoError(t, cache.CreateWinner(ctx, domain.Winner{
		Domain: "lottery", RoundID: 1, TicketNumber: 1, Owner: "A", CreatedAt: ts(1),
	}))
	require.NoError(t, cache.CreateWinner(ctx, domain.Winner{
		Domain: "lottery", RoundID: 1, TicketNumber: 2, Owner: "B", CreatedAt: ts(2),
	}))

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// Con el drain de la ronda 1 todavía armado aparece la ronda 2.
	time.Sleep(150 * time.Millisecond)
	switchedAt := time.Now()
	require.NoError(t, cache.CreateRound(ctx, domain.Round{Domain: "lottery", ID: 2, Status: domain.StatusDrawing}))
	require.NoError(t, cache.CreateWinner(ctx, domain.Winner{
		Domain: "lottery", RoundID: 2, TicketNumber: 1, Owner: "C", CreatedAt: ts(11),
	}))
	require.NoError(t, cache.CreateWinner(ctx, domain.Winner{
		Domain: "lottery", RoundID: 2, TicketNumber: 2, Owner: "D", CreatedAt: ts(12),
	}))

	time.Sleep(650 * time.Millisecond)
	cancel()
	<-done

	// De la ronda 2 salen los dos: D al instante del cambio, C por drain.
	var drainAt time.Time
	var fromRound2 int
	for i, w := range sink.revealed {
		if w.RoundID != 2 {
			continue
		}
		fromRound2++
		if w.Owner == "C" {
			drainAt = sink.times[i]
		}
	}
	require.Equal(t, 2, fromRound2)
	require.False(t, drainAt.IsZero())

	// El drain armado para la ronda 1 no adelanta el de la ronda 2: el
	// backlog nuevo espera su BaseDelay completo desde el cambio.
	assert.GreaterOrEqual(t, drainAt.Sub(switchedAt), 350*time.Millisecond)
}

func TestPollFollowsNewestRound(t *testing.T) {
	sched, sink, cache := newScheduler(t)
	ctx := context.Background()

	require.NoError(t, cache.CreateRound(ctx, domain.Round{Domain: "lottery", ID: 3, Status: domain.StatusComplete}))
	require.NoError(t, cache.CreateWinner(ctx, domain.Winner{
		Domain: "lottery", RoundID: 3, TicketNumber: 1, Owner: "A", CreatedAt: ts(1),
	}))

	// Una pasada de poll vía Run con cancel inmediato sería frágil; el
	// comportamiento observable se cubre con las piezas públicas.
	sched.SetRound(ctx, domain.Round{Domain: "lottery", ID: 3, Status: domain.StatusComplete})
	winners, err := cache.ListWinners(ctx, "lottery", 3)
	require.NoError(t, err)
	sched.Offer(ctx, winners)

	require.Len(t, sink.revealed, 1)
	assert.Equal(t, "A", sink.revealed[0].Owner)
	assert.Equal(t, []uint64{3}, sink.summaries)
}
