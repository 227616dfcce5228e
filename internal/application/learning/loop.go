// Package learning implementa el loop de auto-calibración: cuatro
// sub-algoritmos idempotentes que leen el historial de outcomes y escriben
// solo su propia tabla. Con datos insuficientes no hacen nada.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

// Status de un sub-algoritmo tras ejecutarse.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped" // datos insuficientes: no-op deliberado
)

// Report resume una ejecución. Skipped cuenta filas de outcome corruptas.
type Report struct {
	Name    string
	Status  Status
	Reason  string
	Updated int
	Skipped int
}

func skipped(name, reason string, corrupt int) Report {
	slog.Info("learning: skipped", "step", name, "reason", reason, "corrupt_rows", corrupt)
	return Report{Name: name, Status: StatusSkipped, Reason: reason, Skipped: corrupt}
}

// Config del loop.
type Config struct {
	Models []string // modelos configurados; los que no tienen historial también reciben peso

	BatchSize         int
	CalibrationWindow time.Duration
	MinCellSamples    int // mínimo por (dominio, modelo)

	SelectionWindow time.Duration
	MinModelSamples int
	KillBrier       float64

	PromptWindow      time.Duration
	PromptMinTrials   int
	PromptRetireGap   float64
	PromptMaxVariants int

	ThresholdWindow     time.Duration
	ThresholdMinSamples int
	EntropyDefault      float64
	EntropyStep         float64
	EntropyMin          float64
	EntropyMax          float64
	EffectiveSep        float64
	UselessSep          float64
	CorrectBrier        float64
}

// DefaultConfig devuelve los parámetros por defecto del loop.
func DefaultConfig() Config {
	return Config{
		BatchSize:           10,
		CalibrationWindow:   90 * 24 * time.Hour,
		MinCellSamples:      3,
		SelectionWindow:     30 * 24 * time.Hour,
		MinModelSamples:     5,
		KillBrier:           0.28,
		PromptWindow:        60 * 24 * time.Hour,
		PromptMinTrials:     20,
		PromptRetireGap:     0.05,
		PromptMaxVariants:   3,
		ThresholdWindow:     60 * 24 * time.Hour,
		ThresholdMinSamples: 20,
		EntropyDefault:      4.0,
		EntropyStep:         0.25,
		EntropyMin:          1.0,
		EntropyMax:          8.0,
		EffectiveSep:        0.10,
		UselessSep:          0.05,
		CorrectBrier:        0.20,
	}
}

// Loop agrupa los cuatro sub-algoritmos.
type Loop struct {
	store    ports.LearningStore
	proposer ports.VariantProposer
	cfg      Config
	now      func() time.Time
}

// New crea el loop. proposer puede ser nil: el torneo retira pero no regenera.
func New(store ports.LearningStore, proposer ports.VariantProposer, cfg Config) *Loop {
	return &Loop{
		store:    store,
		proposer: proposer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunCalibration ejecuta calibración por dominio, selección de modelos y
// adaptación de umbrales, en ese orden. Un error de uno no impide los demás;
// se devuelve el primero.
func (l *Loop) RunCalibration(ctx context.Context) ([]Report, error) {
	steps := []func(context.Context) (Report, error){
		l.Calibrate,
		l.SelectModels,
		l.AdaptThresholds,
	}
	var (
		reports  []Report
		firstErr error
	)
	for _, step := range steps {
		r, err := step(ctx)
		if err != nil {
			slog.Error("learning: step failed", "step", r.Name, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reports = append(reports, r)
	}
	return reports, firstErr
}

// SeedPrompts inserta las variantes iniciales si no hay ninguna.
func (l *Loop) SeedPrompts(ctx context.Context) error {
	all, err := l.store.AllPrompts(ctx)
	if err != nil {
		return fmt.Errorf("learning.SeedPrompts: %w", err)
	}
	if len(all) > 0 {
		return nil
	}
	for _, p := range forecast.SeedVariants() {
		if err := l.store.UpsertPrompt(ctx, p); err != nil {
			return fmt.Errorf("learning.SeedPrompts: %w", err)
		}
	}
	slog.Info("learning: seeded initial prompt variants", "count", len(forecast.SeedVariants()))
	return nil
}
