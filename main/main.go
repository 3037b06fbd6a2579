package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamspace/auth"
	"teamspace/calendar"
	"teamspace/channels"
	"teamspace/config"
	"teamspace/connections"
	"teamspace/conversation"
	"teamspace/db"
	"teamspace/groups"
	"teamspace/logger"
	"teamspace/mailer"
	"teamspace/main/routes"
	"teamspace/messages"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/projects"
	"teamspace/realtime"
	"teamspace/tasks"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	zlog := logger.New(cfg.Log.Level, cfg.Server.Env)
	defer zlog.Sync()
	zlog.Info("starting teamspace", cfg.LogFields()...)

	gdb, err := db.Open(cfg, zlog)
	if err != nil {
		zlog.Fatal("Error opening database", zap.Error(err))
	}
	defer db.CloseDB(gdb)

	// Auth
	sessions := auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL)
	var google auth.IdentityVerifier
	if cfg.Google.ClientID != "" {
		google = auth.NewGoogleVerifier(cfg.Google.ClientID)
	}
	authSvc := auth.NewService(gdb, sessions, mailer.New(cfg.Mail, zlog), google, cfg.OTP.TTL, zlog)

	// Realtime. The hub authorizes room joins through the resolver, which
	// needs the connection store, which notifies through the hub.
	presence := realtime.NewMemoryPresence()
	hub := realtime.NewHub(presence, nil, realtime.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		SendQueueSize:  cfg.Realtime.SendQueueSize,
		ReadLimit:      cfg.Realtime.ReadLimit,
	}, zlog)
	notifier := notifications.NewNotifier(gdb, hub, zlog)
	connStore := connections.NewStore(gdb, notifier)
	resolver := conversation.NewResolver(gdb, connStore)
	hub.SetAuthorizer(resolver)

	// Domain
	msgHandler := messages.NewHandler(messages.NewStore(gdb), resolver, hub, connStore)
	projectSvc := projects.NewService(gdb, notifier)

	handlers := routes.Handlers{
		DB:            gdb,
		Sessions:      sessions,
		Auth:          auth.NewHandler(authSvc),
		Orgs:          orgs.NewHandler(orgs.NewService(gdb, zlog), hub),
		Connections:   connStore,
		Messages:      msgHandler,
		Groups:        groups.NewHandler(groups.NewService(gdb), resolver, msgHandler),
		Channels:      channels.NewHandler(channels.NewStore(gdb), resolver, msgHandler),
		Notifications: notifier,
		Projects:      projectSvc,
		Tasks:         tasks.NewService(gdb, projectSvc, notifier),
		Calendar:      calendar.NewService(gdb, notifier, calendar.NewICE(cfg.Turn), cfg.Server.PublicBaseURL),
		Hub:           hub,
	}
	r := routes.NewRouter(cfg, zlog, handlers)

	server := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		zlog.Info("listening", zap.String("addr", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("ListenAndServe error", zap.Error(err))
		}
	}()

	// Wait for SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}
	zlog.Info("server exited cleanly")
}
