package linera_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winzalabs/chainsync/internal/adapters/linera"
	"github.com/winzalabs/chainsync/internal/adapters/pricefeed"
	"github.com/winzalabs/chainsync/internal/domain"
)

// ledgerStub responde con un body fijo y captura las queries recibidas.
type ledgerStub struct {
	body    string
	status  int
	queries []string
}

func (l *ledgerStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req map[string]string
		_ = json.Unmarshal(raw, &req)
		l.queries = append(l.queries, req["query"])

		if l.status != 0 {
			w.WriteHeader(l.status)
		}
		w.Write([]byte(l.body))
	}
}

func newApp(t *testing.T, stub *ledgerStub, cfg linera.AppConfig) *linera.App {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	cfg.Endpoint = srv.URL
	if cfg.PurchaseEndpoint != "" {
		cfg.PurchaseEndpoint = srv.URL
	}
	return linera.NewApp(linera.NewClient(), pricefeed.Static{Value: 431.5}, cfg)
}

func TestActiveRoundMapsFields(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {"activeRound": {
		"id": 12, "status": "Active", "ticketPrice": 1.5,
		"totalTicketsSold": 7, "prizePool": 10.5,
		"createdAt": 1756700000000000
	}}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	r, err := app.ActiveRound(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "lottery", r.Domain)
	assert.Equal(t, uint64(12), r.ID)
	assert.Equal(t, domain.StatusActive, r.Status) // normalizado a mayúsculas
	assert.Equal(t, 1.5, r.TicketPrice)
	assert.Equal(t, uint64(7), r.TotalTicketsSold)
	require.NotNil(t, r.CreatedAt)
	assert.Equal(t, int64(1756700000), r.CreatedAt.Unix())
	assert.Nil(t, r.ClosedAt)
}

func TestActiveRoundNullIsNil(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {"activeRound": null}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	r, err := app.ActiveRound(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestReadPathSwallowsTransportFailure(t *testing.T) {
	stub := &ledgerStub{status: http.StatusBadGateway, body: "bad gateway"}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	r, err := app.ActiveRound(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, r)

	rounds, err := app.AllRounds(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rounds)
}

func TestClosedRoundPicksNewest(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {"allRounds": [
		{"id": 9, "status": "ACTIVE"},
		{"id": 5, "status": "CLOSED"},
		{"id": 8, "status": "CLOSED"},
		{"id": 3, "status": "COMPLETE"}
	]}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	r, err := app.ClosedRound(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, uint64(8), r.ID)
}

func TestRoundWinnersLottery(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {"roundWinners": [
		{"ticketNumber": 17, "owner": "0xaaa", "prizeAmount": 40.0, "claimed": false, "sourceChainId": "e476..."},
		{"ticketNumber": 3, "owner": "0xbbb", "prizeAmount": 25.0, "claimed": true, "sourceChainId": ""}
	]}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	winners, err := app.RoundWinners(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, winners, 2)

	assert.Equal(t, uint64(6), winners[0].RoundID)
	assert.Equal(t, uint64(17), winners[0].TicketNumber)
	assert.Equal(t, "0xaaa", winners[0].Owner)
	assert.Equal(t, 40.0, winners[0].PrizeAmount)
	assert.False(t, winners[0].Claimed)
	assert.Equal(t, "e476...", winners[0].SourceChainID)
	assert.True(t, winners[1].Claimed)
}

func TestRoundWinnersPredictionUsesIndex(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {"roundWinners": [
		{"owner": "0xaaa", "prizeAmount": 12.0, "won": true, "sourceChainId": "c1"},
		{"owner": "0xbbb", "prizeAmount": 8.0, "won": true, "sourceChainId": "c1"}
	]}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "prediction", Variant: domain.VariantPrediction})

	winners, err := app.RoundWinners(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, uint64(0), winners[0].TicketNumber)
	assert.Equal(t, uint64(1), winners[1].TicketNumber)
}

func TestCloseRoundMutations(t *testing.T) {
	tests := []struct {
		name    string
		variant domain.Variant
		want    string
	}{
		{"lottery", domain.VariantLottery, "mutation { closeRound }"},
		{"prediction", domain.VariantPrediction, `mutation { closeRound(closingPrice: "431.5") }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &ledgerStub{body: `{"data": {"closeRound": null}}`}
			app := newApp(t, stub, linera.AppConfig{Domain: tt.name, Variant: tt.variant})

			require.NoError(t, app.CloseRound(context.Background()))
			require.Len(t, stub.queries, 1)
			assert.Equal(t, tt.want, stub.queries[0])
		})
	}
}

func TestResolveRoundMutations(t *testing.T) {
	tests := []struct {
		name    string
		variant domain.Variant
		want    string
	}{
		{"lottery", domain.VariantLottery, "mutation { generateWinner(roundId: 4) }"},
		{"prediction", domain.VariantPrediction, `mutation { resolveRound(resolutionPrice: "431.5") }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &ledgerStub{body: `{"data": {}}`}
			app := newApp(t, stub, linera.AppConfig{Domain: tt.name, Variant: tt.variant})

			require.NoError(t, app.ResolveRound(context.Background(), 4))
			require.Len(t, stub.queries, 1)
			assert.Equal(t, tt.want, stub.queries[0])
		})
	}
}

func TestWritePathPropagatesErrors(t *testing.T) {
	stub := &ledgerStub{body: `{"errors": [{"message": "round not closed"}]}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	err := app.ResolveRound(context.Background(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, linera.ErrProtocol)
}

func TestPurchaseTickets(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {}}`}
	app := newApp(t, stub, linera.AppConfig{
		Domain:           "lottery",
		Variant:          domain.VariantLottery,
		PurchaseEndpoint: "placeholder", // newApp lo apunta al stub
		Owner:            "0xowner",
		Amount:           "2.5",
	})

	require.NoError(t, app.PurchaseTickets(context.Background(), 3))
	require.Len(t, stub.queries, 1)
	assert.Equal(t, `mutation { transfer(owner: "0xowner", amount: "2.5") }`, stub.queries[0])
}

func TestPurchaseTicketsWithoutEndpoint(t *testing.T) {
	stub := &ledgerStub{body: `{"data": {}}`}
	app := newApp(t, stub, linera.AppConfig{Domain: "lottery", Variant: domain.VariantLottery})

	err := app.PurchaseTickets(context.Background(), 3)
	require.Error(t, err)
	assert.Len(t, stub.queries, 0)
}
