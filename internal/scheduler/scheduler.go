// Package scheduler запускает фоновые задачи рассылок по расписанию cron.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CampaignJobs содержит операции сервиса рассылок, которые выполняются по расписанию.
type CampaignJobs interface {
	DispatchDue(ctx context.Context) (int, error)
	RetryStale(ctx context.Context) (int, error)
}

type Config struct {
	DispatchSchedule string
	RetrySchedule    string
	JobTimeout       time.Duration
}

// Scheduler управляет cron-задачами.
type Scheduler struct {
	cron *cron.Cron
	jobs CampaignJobs
	log  *logrus.Logger
	cfg  Config
}

func New(jobs CampaignJobs, log *logrus.Logger, cfg Config) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	cronLogger := cron.PrintfLogger(log)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{cron: c, jobs: jobs, log: log, cfg: cfg}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.DispatchSchedule, s.dispatchDue); err != nil {
		return err
	}
	s.log.WithField("schedule", s.cfg.DispatchSchedule).Info("scheduler: задача отправки запланированных рассылок зарегистрирована")

	if _, err := s.cron.AddFunc(s.cfg.RetrySchedule, s.retryStale); err != nil {
		return err
	}
	s.log.WithField("schedule", s.cfg.RetrySchedule).Info("scheduler: задача повторной доставки зарегистрирована")

	s.cron.Start()
	return nil
}

// Stop останавливает планировщик. Возвращённый контекст закрывается, когда текущие задачи завершатся.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) dispatchDue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n, err := s.jobs.DispatchDue(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduler: отправка запланированных рассылок")
		return
	}
	if n > 0 {
		s.log.WithField("campaigns", n).Info("scheduler: запланированные рассылки отправлены")
	}
}

func (s *Scheduler) retryStale() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n, err := s.jobs.RetryStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduler: повторная доставка")
		return
	}
	if n > 0 {
		s.log.WithField("records", n).Info("scheduler: зависшие доставки обработаны")
	}
}
