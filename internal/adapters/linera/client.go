package linera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	queryTimeout = 10 * time.Second

	// El nodo local de Linera aguanta mucho más, pero los pollers de
	// varios dominios comparten este client: 20/s con burst de 10 deja
	// margen de sobra sin poder saturar al servicio.
	queriesPerSec = 20
	queriesBurst  = 10

	previewMaxBytes = 300
)

// Errores de clasificación del client. Los callers del camino de escritura
// los distinguen con errors.Is; los del camino de lectura los degradan a
// resultado vacío.
var (
	// ErrTransport cubre timeouts, conexión rechazada y status no-2xx.
	ErrTransport = errors.New("linera: transport error")
	// ErrProtocol cubre respuestas con el array `errors` de GraphQL poblado.
	ErrProtocol = errors.New("linera: graphql error")
)

// Client ejecuta queries y mutations GraphQL contra endpoints del nodo
// Linera. Una sola request por llamada, sin retry interno: cada caller
// tiene su propia política de backoff y un retry genérico aquí las pisaría.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient crea un Client con timeout fijo y rate limiting compartido.
func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: queryTimeout},
		limiter: rate.NewLimiter(queriesPerSec, queriesBurst),
	}
}

// graphqlResponse es el envelope estándar {data, errors}.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Execute hace POST {query} al endpoint y devuelve el objeto `data`
// parseado. Cualquier status no-2xx es ErrTransport; un array `errors`
// poblado es ErrProtocol.
func (c *Client) Execute(ctx context.Context, endpoint, query string) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: rate limiter: %w", err)
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: read body: %w: %w", ErrTransport, err)
	}

	slog.Debug("graphql exchange",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"req_bytes", len(body),
		"resp_bytes", len(raw),
		"preview", preview(raw),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, fmt.Errorf("linera.Execute: %w: status %d", ErrTransport, resp.StatusCode)
	}

	var env graphqlResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return gjson.Result{}, fmt.Errorf("linera.Execute: decode response: %w: %w", ErrProtocol, err)
	}
	if len(env.Errors) > 0 {
		return gjson.Result{}, fmt.Errorf("linera.Execute: %w: %s", ErrProtocol, env.Errors[0].Message)
	}

	return gjson.ParseBytes(env.Data), nil
}

// preview trunca el payload para el log de debug.
func preview(raw []byte) string {
	if len(raw) <= previewMaxBytes {
		return string(raw)
	}
	return string(raw[:previewMaxBytes]) + "..."
}
