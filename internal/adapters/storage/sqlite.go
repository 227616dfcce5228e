package storage

// sqlite.go: store relacional del bot.
//
// Estrategia:
//   - Un único *sql.DB con una conexión: SQLite es single-writer y así cada
//     transacción es la frontera de serialización entre jobs.
//   - `markets` es el registro canónico; los forecasts, trades y outcomes
//     lo referencian por id estable "<exchange>:<external_id>".
//   - `portfolio_state` es una fila singleton (id = 1).
//   - Los timestamps se guardan como TEXT UTC de ancho fijo para que el orden
//     lexicográfico coincida con el temporal.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id                  TEXT PRIMARY KEY,
    exchange            TEXT NOT NULL,
    external_id         TEXT NOT NULL,
    question            TEXT NOT NULL,
    resolution_criteria TEXT NOT NULL DEFAULT '',
    domain              TEXT NOT NULL DEFAULT '',
    price               REAL NOT NULL DEFAULT 0,
    volume              REAL NOT NULL DEFAULT 0,
    close_time          TEXT NOT NULL DEFAULT '',
    state               TEXT NOT NULL DEFAULT 'OPEN',
    outcome             TEXT NOT NULL DEFAULT '',
    dedup_group         TEXT NOT NULL DEFAULT '',
    last_forecast_at    TEXT NOT NULL DEFAULT '',
    resolved_at         TEXT NOT NULL DEFAULT '',
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL,
    UNIQUE (exchange, external_id)
);

CREATE TABLE IF NOT EXISTS forecasts (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id            TEXT NOT NULL REFERENCES markets(id),
    run_id               TEXT NOT NULL,
    model                TEXT NOT NULL,
    prompt_version       TEXT NOT NULL,
    domain               TEXT NOT NULL DEFAULT '',
    probability          REAL NOT NULL,
    entropy              REAL NOT NULL,
    entropy_source       TEXT NOT NULL,
    ensemble_probability REAL NOT NULL,
    confidence           TEXT NOT NULL,
    news_used            INTEGER NOT NULL DEFAULT 0,
    reasoning            TEXT NOT NULL DEFAULT '',
    created_at           TEXT NOT NULL,
    UNIQUE (market_id, model, prompt_version, run_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id             TEXT PRIMARY KEY,
    market_id      TEXT NOT NULL REFERENCES markets(id),
    forecast_id    INTEGER,
    side           TEXT NOT NULL,
    size           REAL NOT NULL,
    fill_price     REAL NOT NULL,
    shares         REAL NOT NULL,
    kelly_fraction REAL NOT NULL,
    edge           REAL NOT NULL,
    is_paper       INTEGER NOT NULL DEFAULT 1,
    order_id       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'OPEN',
    pnl            REAL NOT NULL DEFAULT 0,
    created_at     TEXT NOT NULL,
    closed_at      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS outcomes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id      TEXT NOT NULL REFERENCES markets(id),
    forecast_id    INTEGER NOT NULL REFERENCES forecasts(id),
    model          TEXT,
    prompt_version TEXT,
    domain         TEXT,
    predicted      REAL,
    actual         REAL,
    brier          REAL,
    entropy        REAL,
    entropy_source TEXT,
    resolved_at    TEXT NOT NULL,
    UNIQUE (market_id, forecast_id)
);

CREATE TABLE IF NOT EXISTS calibration_state (
    domain            TEXT NOT NULL,
    model             TEXT NOT NULL,
    brier_score       REAL NOT NULL DEFAULT 0,
    resolved_count    INTEGER NOT NULL DEFAULT 0,
    domain_weight     REAL NOT NULL DEFAULT 1,
    entropy_threshold REAL,
    alert             INTEGER NOT NULL DEFAULT 0,
    updated_at        TEXT NOT NULL,
    PRIMARY KEY (domain, model)
);

CREATE TABLE IF NOT EXISTS prompt_experiments (
    version    TEXT PRIMARY KEY,
    domain     TEXT NOT NULL DEFAULT '',
    template   TEXT NOT NULL,
    trials     INTEGER NOT NULL DEFAULT 0,
    wins       INTEGER NOT NULL DEFAULT 0,
    mean_brier REAL,
    active     INTEGER NOT NULL DEFAULT 1,
    parent     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_weights (
    model          TEXT PRIMARY KEY,
    weight         REAL NOT NULL,
    rolling_brier  REAL NOT NULL DEFAULT 0,
    resolved_count INTEGER NOT NULL DEFAULT 0,
    killed         INTEGER NOT NULL DEFAULT 0,
    updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_state (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    cash        REAL NOT NULL,
    total_value REAL NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_costs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    model      TEXT NOT NULL,
    purpose    TEXT NOT NULL,
    market_id  TEXT NOT NULL DEFAULT '',
    tokens_in  INTEGER NOT NULL DEFAULT 0,
    tokens_out INTEGER NOT NULL DEFAULT 0,
    cost_usd   REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

-- Marcas de agua del loop de calibración (último batch procesado, etc.)
CREATE TABLE IF NOT EXISTS loop_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_exchange  ON markets(exchange);
CREATE INDEX IF NOT EXISTS idx_markets_state     ON markets(state);
CREATE INDEX IF NOT EXISTS idx_markets_domain    ON markets(domain);
CREATE INDEX IF NOT EXISTS idx_markets_dedup     ON markets(dedup_group);
CREATE INDEX IF NOT EXISTS idx_forecasts_market  ON forecasts(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_market     ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_status     ON trades(status);
-- Como mucho una posición abierta por (mercado, lado)
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_open_side ON trades(market_id, side) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_outcomes_domain   ON outcomes(domain);
CREATE INDEX IF NOT EXISTS idx_outcomes_model    ON outcomes(model);
CREATE INDEX IF NOT EXISTS idx_outcomes_resolved ON outcomes(resolved_at);
CREATE INDEX IF NOT EXISTS idx_costs_model       ON llm_costs(model);
`

// migrations añade columnas que pueden faltar en bases antiguas.
// Los errores se ignoran: "duplicate column" significa que ya se aplicó.
var migrations = []string{
	`ALTER TABLE calibration_state ADD COLUMN alert INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE prompt_experiments ADD COLUMN parent TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE trades ADD COLUMN order_id TEXT NOT NULL DEFAULT ''`,
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStorage implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	for _, m := range migrations {
		_, _ = db.Exec(m)
	}

	return &SQLiteStorage{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// EnsurePortfolio crea la fila singleton del portfolio con el bankroll inicial
// si todavía no existe. No toca una fila existente.
func (s *SQLiteStorage) EnsurePortfolio(ctx context.Context, bankroll float64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO portfolio_state (id, cash, total_value, updated_at) VALUES (1, ?, ?, ?)`,
		bankroll, bankroll, ts(s.now()),
	); err != nil {
		return fmt.Errorf("storage.EnsurePortfolio: %w", err)
	}
	return nil
}

// GetState lee una marca del loop_state.
func (s *SQLiteStorage) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM loop_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage.GetState: %w", err)
	}
	return v, true, nil
}

// SetState escribe una marca del loop_state.
func (s *SQLiteStorage) SetState(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO loop_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, ts(s.now())); err != nil {
		return fmt.Errorf("storage.SetState: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// filas escritas a mano o por versiones viejas
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
