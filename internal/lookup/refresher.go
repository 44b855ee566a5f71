package lookup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/ratingflow/internal/telemetry"
)

// cronParser — парсер cron-выражений (5 полей, плюс @every/@hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule проверяет валидность cron-выражения.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Refresher периодически перечитывает lookup-таблицы.
type Refresher struct {
	tables *Tables
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRefresher создаёт Refresher с расписанием schedule (например "*/5 * * * *" или "@every 1m").
func NewRefresher(tables *Tables, schedule string, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Refresher{
		tables: tables,
		cron:   cron.New(cron.WithParser(cronParser)),
		logger: logger,
	}

	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return r, nil
}

// Start запускает расписание. Остановка — через ctx.
func (r *Refresher) Start(ctx context.Context) {
	r.cron.Start()
	r.logger.Info("lookup refresher started", "entries", len(r.cron.Entries()))

	go func() {
		<-ctx.Done()
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		r.logger.Info("lookup refresher stopped")
	}()
}

func (r *Refresher) tick() {
	if err := r.tables.Reload(context.Background()); err != nil {
		// Ошибка не сбрасывает старый снимок: рейтинг продолжает работать на нём
		r.logger.Error("lookup reload failed", "error", err)
		telemetry.LookupReloads.WithLabelValues("error").Inc()
		return
	}
	telemetry.LookupReloads.WithLabelValues("ok").Inc()
}
