package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/winzalabs/chainsync/internal/domain"
)

// Config es la configuración completa del daemon de sincronización.
type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Domains  []DomainConfig `yaml:"domains"`
	Sync     SyncConfig     `yaml:"sync"`
	Purchase PurchaseConfig `yaml:"purchase"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// LedgerConfig contiene los endpoints del nodo Linera.
type LedgerConfig struct {
	// HTTPBase es la base del servicio GraphQL, p.ej. http://localhost:8080.
	HTTPBase string `yaml:"http_base"`
	// WSBase es el endpoint del socket de notificaciones, p.ej. ws://localhost:8080/ws.
	WSBase string `yaml:"ws_base"`
}

// DomainConfig describe una instancia independiente de ciclo de vida:
// una lotería o un mercado de predicción, con su chain y sus apps.
type DomainConfig struct {
	Name    string `yaml:"name"`
	Variant string `yaml:"variant"` // lottery | prediction
	ChainID string `yaml:"chain_id"`
	// AppID es la app de rondas del dominio.
	AppID string `yaml:"app_id"`
	// PurchaseAppID es la app que recibe compras/apuestas; vacío
	// deshabilita la compra en este dominio.
	PurchaseAppID string `yaml:"purchase_app_id"`
	// Orchestrate habilita el ciclo close→resolve en este dominio.
	// Desactivado, el proceso solo sincroniza y revela.
	Orchestrate bool `yaml:"orchestrate"`
	// StaticPrice alimenta las mutations de cierre/resolución en
	// predicción mientras no haya feed real conectado.
	StaticPrice float64 `yaml:"static_price"`
}

// SyncConfig controla el synchronizer y la retención de la cache.
type SyncConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
	// RetentionRounds es el K de rondas a conservar por partición.
	RetentionRounds int `yaml:"retention_rounds"`
}

// PurchaseConfig controla el agente de compra.
type PurchaseConfig struct {
	Enabled bool `yaml:"enabled"`
	// Owner es la cuenta compradora.
	Owner string `yaml:"owner"`
	// Amount por compra, como decimal del ledger.
	Amount string `yaml:"amount"`
	// Prediction es la dirección por defecto en dominios de predicción.
	Prediction  string `yaml:"prediction"` // UP | DOWN
	MaxAttempts int    `yaml:"max_attempts"`
}

// StorageConfig controla dónde se persiste la cache local.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Los valores del .env sobreescriben los del YAML. La validación
// es estricta: arrancar a medio configurar es el único error fatal del
// sistema.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &cfg, nil
}

// SyncInterval devuelve el intervalo de poll como time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.PollSeconds) * time.Second
}

// Endpoint arma la URL GraphQL de una app: base/chains/{chain}/applications/{app}.
func (c *Config) Endpoint(d DomainConfig, appID string) string {
	return fmt.Sprintf("%s/chains/%s/applications/%s", c.Ledger.HTTPBase, d.ChainID, appID)
}

// applyEnvOverrides sobreescribe valores con variables de entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEDGER_HTTP_BASE"); v != "" {
		cfg.Ledger.HTTPBase = v
	}
	if v := os.Getenv("LEDGER_WS_BASE"); v != "" {
		cfg.Ledger.WSBase = v
	}
	if v := os.Getenv("PURCHASE_OWNER"); v != "" {
		cfg.Purchase.Owner = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores opcionales tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Sync.PollSeconds <= 0 {
		cfg.Sync.PollSeconds = 30
	}
	if cfg.Sync.RetentionRounds <= 0 {
		// El contrato de rondas conserva 5 históricas; la cache igual.
		cfg.Sync.RetentionRounds = 5
	}
	if cfg.Purchase.MaxAttempts <= 0 {
		cfg.Purchase.MaxAttempts = 3
	}
	if cfg.Purchase.Prediction == "" {
		cfg.Purchase.Prediction = "UP"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "chainsync.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones incompletas. Identificadores y
// endpoints faltantes abortan el arranque de forma determinística.
func validate(cfg *Config) error {
	if cfg.Ledger.HTTPBase == "" {
		return fmt.Errorf("ledger.http_base is required")
	}
	if cfg.Ledger.WSBase == "" {
		return fmt.Errorf("ledger.ws_base is required")
	}
	if len(cfg.Domains) == 0 {
		return fmt.Errorf("at least one domain is required")
	}
	for i, d := range cfg.Domains {
		if d.Name == "" {
			return fmt.Errorf("domains[%d]: name is required", i)
		}
		if d.ChainID == "" {
			return fmt.Errorf("domain %q: chain_id is required", d.Name)
		}
		if d.AppID == "" {
			return fmt.Errorf("domain %q: app_id is required", d.Name)
		}
		switch domain.Variant(d.Variant) {
		case domain.VariantLottery, domain.VariantPrediction:
		default:
			return fmt.Errorf("domain %q: variant must be lottery or prediction, got %q", d.Name, d.Variant)
		}
	}
	if cfg.Purchase.Enabled {
		if cfg.Purchase.Owner == "" {
			return fmt.Errorf("purchase.owner is required when purchase is enabled")
		}
		if cfg.Purchase.Amount == "" {
			return fmt.Errorf("purchase.amount is required when purchase is enabled")
		}
	}
	return nil
}
