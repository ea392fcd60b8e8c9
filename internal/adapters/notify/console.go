package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/winzalabs/chainsync/internal/domain"
)

// Console implementa ports.RevealSink escribiendo a stdout. Es el
// sustituto headless de la capa de presentación: un reveal por línea y
// una tabla por ronda seleccionada.
type Console struct {
	out io.Writer
}

// NewConsole crea un sink que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un sink para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Reveal imprime un winner pautado.
func (c *Console) Reveal(_ context.Context, w domain.Winner, pending int) error {
	src := w.SourceChainID
	if src == "" {
		src = "local"
	}
	fmt.Fprintf(c.out, "[%s] %s r%d ticket #%d → %s gana %.4f (origen %s, %d pendientes)\n",
		time.Now().Format("15:04:05"),
		w.Domain, w.RoundID, w.TicketNumber,
		truncate(w.Owner, 16), w.PrizeAmount, src, pending,
	)
	return nil
}

// RoundSummary imprime la tabla de estado de la ronda seleccionada.
func (c *Console) RoundSummary(_ context.Context, r domain.Round) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("Domain", "Round", "Status", "Prize pool", "Tickets", "Created", "Closed")

	table.Append(
		r.Domain,
		fmt.Sprintf("%d", r.ID),
		string(r.Status),
		fmt.Sprintf("%.4f", r.PrizePool),
		fmt.Sprintf("%d", r.TotalTicketsSold),
		fmtInstant(r.CreatedAt),
		fmtInstant(r.ClosedAt),
	)

	table.Render()
	return nil
}

func fmtInstant(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("01-02 15:04:05")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
