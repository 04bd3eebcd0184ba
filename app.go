package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/IRCHrocks25/KatCon-sub001/services"
)

// app holds every wired component of the service.
type app struct {
	cfg           *services.Config
	db            *sql.DB
	directory     *database.DirectoryStore
	notifications *database.NotificationStore
	resolver      *services.Resolver
	hub           *services.Hub
	tasks         *services.TaskService
	deadlines     *services.DeadlineScheduler
	auth          *services.AuthService
}

func loadConfig() (*services.Config, error) {
	if err := services.LoadEnv(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return services.LoadConfig()
}

func newApp(ctx context.Context, cfg *services.Config) (*app, error) {
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		db:            db,
		directory:     database.NewDirectoryStore(db),
		notifications: database.NewNotificationStore(db),
		hub:           services.NewHub(),
	}

	if cfg.DirectorySeed != "" {
		if err := a.seed(ctx, cfg.DirectorySeed); err != nil {
			db.Close()
			return nil, err
		}
	}

	a.resolver = services.NewResolver(a.directory)
	a.tasks = services.NewTaskService(database.NewTaskRepo(db), a.resolver,
		services.WithPublisher(a.hub),
		services.WithAssignmentNotifications(a.notifications),
	)
	a.hub.Attach(a.tasks)
	a.deadlines = services.NewDeadlineScheduler(a.tasks, a.resolver, a.notifications, cfg.Deadlines)
	var mailer services.Mailer
	if cfg.Auth.SMTP.Configured() {
		mailer = services.NewSMTPMailer(cfg.Auth.SMTP)
	}
	if cfg.Auth.DevLinks {
		log.Printf("Warning: AUTH_DEV_LINKS is on, login links are returned to callers")
	}
	a.auth = services.NewAuthService(cfg.Auth, a.directory, mailer)
	return a, nil
}

func (a *app) seed(ctx context.Context, path string) error {
	seed, err := database.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := a.directory.Seed(ctx, seed); err != nil {
		return fmt.Errorf("seed directory: %w", err)
	}
	log.Printf("Seeded directory with %d users and %d teams", len(seed.Users), len(seed.Teams))
	return nil
}

func (a *app) Close() {
	a.db.Close()
}
