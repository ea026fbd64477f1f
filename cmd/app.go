package cmd

import (
	"context"
	"log"

	"github.com/example/dinner-waitlist/internal/clock"
	"github.com/example/dinner-waitlist/internal/config"
	"github.com/example/dinner-waitlist/internal/notify"
	"github.com/example/dinner-waitlist/internal/scheduler"
	"github.com/example/dinner-waitlist/internal/signup"
	"github.com/example/dinner-waitlist/internal/store"
	"github.com/example/dinner-waitlist/internal/token"
)

// app is what every command that touches data needs.
type app struct {
	cfg      config.Config
	store    store.Store
	notifier notify.Sender
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, notifier: newNotifier(cfg)}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

func newNotifier(cfg config.Config) notify.Sender {
	if !cfg.SMTP.Enabled() {
		return notify.LogSender{}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	})
}

func (a *app) scheduler() *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Repo:        a.store,
		Notifier:    a.notifier,
		Clock:       clock.System{},
		Tokens:      token.UUID{},
		BaseURL:     a.cfg.BaseURL,
		Interval:    a.cfg.Interval,
		Expiry:      a.cfg.Expiry,
		Concurrency: a.cfg.Concurrency,
		SendTimeout: a.cfg.SMTP.Timeout,
	}
}

func (a *app) signup() *signup.Service {
	return &signup.Service{
		Repo:     a.store,
		Notifier: a.notifier,
		Clock:    clock.System{},
		BaseURL:  a.cfg.BaseURL,
		Expiry:   a.cfg.Expiry,
	}
}
