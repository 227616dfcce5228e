package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del forecaster.
type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Forecast ForecastConfig `yaml:"forecast"`
	Models   ModelsConfig   `yaml:"models"`
	Learning LearningConfig `yaml:"learning"`
	News     NewsConfig     `yaml:"news"`
	Schedule ScheduleConfig `yaml:"schedule"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// TradingConfig son los límites de riesgo del motor de trading.
type TradingConfig struct {
	MinEdge          float64 `yaml:"min_edge"`
	KellyFraction    float64 `yaml:"kelly_fraction"`   // fracción de Kelly completo
	MaxPositionPct   float64 `yaml:"max_position_pct"` // tope por posición sobre el bankroll
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MinDomainWeight  float64 `yaml:"min_domain_weight"`
	VirtualBankroll  float64 `yaml:"virtual_bankroll"`
	PaperMode        *bool   `yaml:"paper_mode"` // nil = true
}

// Paper devuelve si el motor opera en papel. Por defecto sí.
func (t TradingConfig) Paper() bool {
	return t.PaperMode == nil || *t.PaperMode
}

// ForecastConfig controla la selección de mercados y el pool de modelos.
type ForecastConfig struct {
	MinVolume           float64 `yaml:"min_volume"`
	MinHoursToClose     float64 `yaml:"min_hours_to_close"`
	RestaleHours        float64 `yaml:"restale_hours"`
	DedupThreshold      float64 `yaml:"dedup_threshold"`
	LLMConcurrency      int     `yaml:"llm_concurrency"`
	MarketWorkers       int     `yaml:"market_workers"`
	ModelTimeoutSeconds int     `yaml:"model_timeout_seconds"`
	TopK                int     `yaml:"top_k"`
	MaxTokens           int     `yaml:"max_tokens"`
	ConfidenceAggregate string  `yaml:"confidence_aggregate"` // min | weighted_mean
}

// ModelsConfig lista los modelos del ensemble y los auxiliares.
type ModelsConfig struct {
	Ensemble   []string `yaml:"ensemble"`
	Classifier string   `yaml:"classifier"`
	Evolver    string   `yaml:"evolver"`
}

// LearningConfig son los parámetros del loop de calibración.
type LearningConfig struct {
	BatchSize             int     `yaml:"batch_size"`
	CalibrationWindowDays int     `yaml:"calibration_window_days"`
	MinCellSamples        int     `yaml:"min_cell_samples"`
	SelectionWindowDays   int     `yaml:"selection_window_days"`
	MinModelSamples       int     `yaml:"min_model_samples"`
	KillBrier             float64 `yaml:"kill_brier"`
	PromptWindowDays      int     `yaml:"prompt_window_days"`
	PromptMinTrials       int     `yaml:"prompt_min_trials"`
	PromptRetireGap       float64 `yaml:"prompt_retire_gap"`
	PromptMaxVariants     int     `yaml:"prompt_max_variants"`
	ThresholdWindowDays   int     `yaml:"threshold_window_days"`
	ThresholdMinSamples   int     `yaml:"threshold_min_samples"`
	EntropyDefault        float64 `yaml:"entropy_default"`
	EntropyStep           float64 `yaml:"entropy_step"`
	EntropyMin            float64 `yaml:"entropy_min"`
	EntropyMax            float64 `yaml:"entropy_max"`
	EffectiveSep          float64 `yaml:"effective_sep"`
	UselessSep            float64 `yaml:"useless_sep"`
	CorrectBrier          float64 `yaml:"correct_brier"`
}

// NewsConfig controla la recuperación de noticias y sus guards.
type NewsConfig struct {
	Provider         string   `yaml:"provider"` // tavily | brave
	MaxArticles      int      `yaml:"max_articles"`
	DisabledDomains  []string `yaml:"disabled_domains"`
	MinOverlap       float64  `yaml:"min_overlap"`
	MaxHeadlineShift float64  `yaml:"max_headline_shift"`
}

// ScheduleConfig son las expresiones cron (con segundos) de cada job.
type ScheduleConfig struct {
	Scan              string `yaml:"scan"`
	Price             string `yaml:"price"`
	Resolution        string `yaml:"resolution"`
	Forecast          string `yaml:"forecast"`
	Calibration       string `yaml:"calibration"`
	Tournament        string `yaml:"tournament"`
	JobTimeoutMinutes int    `yaml:"job_timeout_minutes"`
}

// APIConfig contiene base URLs y claves. Las claves normalmente llegan por .env.
type APIConfig struct {
	CLOBBase      string `yaml:"clob_base"`
	GammaBase     string `yaml:"gamma_base"`
	KalshiBase    string `yaml:"kalshi_base"`
	AnthropicBase string `yaml:"anthropic_base"`
	OpenAIBase    string `yaml:"openai_base"`
	DeepSeekBase  string `yaml:"deepseek_base"`

	AnthropicKey string `yaml:"-"`
	OpenAIKey    string `yaml:"-"`
	DeepSeekKey  string `yaml:"-"`
	TavilyKey    string `yaml:"-"`
	BraveKey     string `yaml:"-"`

	LLMRequestsPerSec float64 `yaml:"llm_requests_per_sec"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato, nivel y destino del logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica overrides de entorno y defaults sobre un YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// ModelTimeout devuelve el timeout por llamada a modelo.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Forecast.ModelTimeoutSeconds) * time.Second
}

// RestaleAfter devuelve la edad a partir de la cual un forecast caduca.
func (c *Config) RestaleAfter() time.Duration {
	return time.Duration(c.Forecast.RestaleHours * float64(time.Hour))
}

// JobTimeout devuelve el límite de cada ejecución programada.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Schedule.JobTimeoutMinutes) * time.Minute
}

// Days convierte una ventana en días a time.Duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("PAPER_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PAPER_MODE=%q: %w", v, err)
		}
		cfg.Trading.PaperMode = &b
	}
	if v := os.Getenv("VIRTUAL_BANKROLL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: VIRTUAL_BANKROLL=%q: %w", v, err)
		}
		cfg.Trading.VirtualBankroll = f
	}
	if v := os.Getenv("NEWS_SEARCH_PROVIDER"); v != "" {
		cfg.News.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("CLASSIFIER_MODEL"); v != "" {
		cfg.Models.Classifier = v
	}
	if v := os.Getenv("PROMPT_EVOLVER_MODEL"); v != "" {
		cfg.Models.Evolver = v
	}
	cfg.API.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.API.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.API.DeepSeekKey = os.Getenv("DEEPSEEK_API_KEY")
	cfg.API.TavilyKey = os.Getenv("TAVILY_API_KEY")
	cfg.API.BraveKey = os.Getenv("BRAVE_API_KEY")
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	t := &cfg.Trading
	setFloat(&t.MinEdge, 0.05)
	setFloat(&t.KellyFraction, 0.25)
	setFloat(&t.MaxPositionPct, 0.05)
	setInt(&t.MaxOpenPositions, 20)
	setFloat(&t.MinDomainWeight, 0.5)
	setFloat(&t.VirtualBankroll, 10_000)

	f := &cfg.Forecast
	setFloat(&f.MinVolume, 10_000)
	setFloat(&f.MinHoursToClose, 48)
	setFloat(&f.RestaleHours, 24)
	setFloat(&f.DedupThreshold, 85)
	setInt(&f.LLMConcurrency, 3)
	setInt(&f.MarketWorkers, 4)
	setInt(&f.ModelTimeoutSeconds, 60)
	setInt(&f.TopK, 5)
	setInt(&f.MaxTokens, 300)
	if f.ConfidenceAggregate == "" {
		f.ConfidenceAggregate = "min"
	}

	m := &cfg.Models
	if len(m.Ensemble) == 0 {
		m.Ensemble = []string{"claude-sonnet-4-6", "gpt-4.1", "deepseek-chat"}
	}
	if m.Classifier == "" {
		m.Classifier = "claude-haiku-4-5"
	}
	if m.Evolver == "" {
		m.Evolver = "claude-sonnet-4-6"
	}

	l := &cfg.Learning
	setInt(&l.BatchSize, 10)
	setInt(&l.CalibrationWindowDays, 90)
	setInt(&l.MinCellSamples, 3)
	setInt(&l.SelectionWindowDays, 30)
	setInt(&l.MinModelSamples, 5)
	setFloat(&l.KillBrier, 0.28)
	setInt(&l.PromptWindowDays, 60)
	setInt(&l.PromptMinTrials, 20)
	setFloat(&l.PromptRetireGap, 0.05)
	setInt(&l.PromptMaxVariants, 3)
	setInt(&l.ThresholdWindowDays, 60)
	setInt(&l.ThresholdMinSamples, 20)
	setFloat(&l.EntropyDefault, 4.0)
	setFloat(&l.EntropyStep, 0.25)
	setFloat(&l.EntropyMin, 1.0)
	setFloat(&l.EntropyMax, 8.0)
	setFloat(&l.EffectiveSep, 0.10)
	setFloat(&l.UselessSep, 0.05)
	setFloat(&l.CorrectBrier, 0.20)

	n := &cfg.News
	if n.Provider == "" {
		n.Provider = "tavily"
	}
	setInt(&n.MaxArticles, 5)
	if n.DisabledDomains == nil {
		n.DisabledDomains = []string{"entertainment", "technology"}
	}
	setFloat(&n.MinOverlap, 0.1)
	setFloat(&n.MaxHeadlineShift, 0.15)

	s := &cfg.Schedule
	setString(&s.Scan, "0 0 */4 * * *")
	setString(&s.Price, "0 */30 * * * *")
	setString(&s.Resolution, "0 0 * * * *")
	setString(&s.Forecast, "0 15 */4 * * *")
	setString(&s.Calibration, "0 0 6 * * *")
	setString(&s.Tournament, "0 0 7 * * 1")
	setInt(&s.JobTimeoutMinutes, 90)

	setString(&cfg.API.CLOBBase, "https://clob.polymarket.com")
	setString(&cfg.API.GammaBase, "https://gamma-api.polymarket.com")
	setString(&cfg.API.KalshiBase, "https://api.elections.kalshi.com/trade-api/v2")
	setFloat(&cfg.API.LLMRequestsPerSec, 2)

	setString(&cfg.Storage.DSN, "polyforecast.db")

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "text")
	setInt(&cfg.Log.MaxSizeMB, 50)
	setInt(&cfg.Log.MaxBackups, 5)
	setInt(&cfg.Log.MaxAgeDays, 30)
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
