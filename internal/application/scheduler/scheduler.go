// Package scheduler dispara los jobs del pipeline. El reloj es inyectable
// (Trigger) para poder probar la lógica sin esperar al tiempo real.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job es una unidad ejecutable por el scheduler.
type Job func(ctx context.Context) error

// Trigger invoca fn según spec. Stop espera a que terminen las ejecuciones en curso.
type Trigger interface {
	Add(spec string, fn func()) error
	Start()
	Stop()
}

// CronTrigger es el Trigger de producción sobre robfig/cron con segundos.
type CronTrigger struct {
	cron *cron.Cron
}

// NewCronTrigger crea el trigger.
func NewCronTrigger() *CronTrigger {
	return &CronTrigger{cron: cron.New(cron.WithSeconds())}
}

func (t *CronTrigger) Add(spec string, fn func()) error {
	_, err := t.cron.AddFunc(spec, fn)
	return err
}

func (t *CronTrigger) Start() { t.cron.Start() }

func (t *CronTrigger) Stop() {
	<-t.cron.Stop().Done()
}

type entry struct {
	name string
	spec string
	job  Job
	mu   sync.Mutex // un solo run a la vez por job
}

// Scheduler ejecuta cada job registrado sin solapamientos consigo mismo.
// Jobs distintos sí pueden correr a la vez.
type Scheduler struct {
	trigger Trigger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*entry
}

// New crea el scheduler. timeout acota cada ejecución (0 = sin límite).
func New(trigger Trigger, timeout time.Duration) *Scheduler {
	return &Scheduler{trigger: trigger, timeout: timeout, jobs: make(map[string]*entry)}
}

// Register añade un job. Un spec vacío registra el job solo para RunNow.
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler.Register: job %q already registered", name)
	}
	s.jobs[name] = &entry{name: name, spec: spec, job: job}
	return nil
}

// RunNow ejecuta el job de forma síncrona. Si ya está corriendo espera a que termine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler.RunNow: unknown job %q", name)
	}
	return s.run(ctx, e)
}

// Names devuelve los jobs registrados, ordenados.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run programa los jobs y bloquea hasta que ctx se cancela. Al salir espera a
// los jobs en curso.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	for _, e := range s.jobs {
		if e.spec == "" {
			continue
		}
		if err := s.trigger.Add(e.spec, func() {
			if err := s.run(ctx, e); err != nil && ctx.Err() == nil {
				slog.Error("scheduled job failed", "job", e.name, "err", err)
			}
		}); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("scheduler.Run: job %q spec %q: %w", e.name, e.spec, err)
		}
		slog.Info("job scheduled", "job", e.name, "spec", e.spec)
	}
	s.mu.Unlock()

	s.trigger.Start()
	slog.Info("scheduler started")
	<-ctx.Done()
	s.trigger.Stop()
	slog.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	slog.Debug("job starting", "job", e.name)
	err := e.job(ctx)
	slog.Info("job finished",
		"job", e.name,
		"ok", err == nil,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return err
}
