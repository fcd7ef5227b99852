package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/handlers"
	"github.com/slotter-org/roomchat-backend/internal/middleware"
	"github.com/slotter-org/roomchat-backend/internal/server"
)

const cliName = "roomchat"

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         "Chat rooms with an AI participant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Process queued exchanges (EXCHANGE_MODE=async, QUEUE_BACKEND=redis)",
		RunE:  runWorker,
	})

	clearCmd := &cobra.Command{
		Use:   "clear-rooms",
		Short: "Delete every room and message",
		RunE:  runClearRooms,
	}
	clearCmd.Flags().Bool("archive", false, "upload a JSON transcript of each room to GCS first")
	rootCmd.AddCommand(clearCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed-rooms",
		Short: "Create the rooms listed in SEED_ROOMS_JSON_PATH",
		RunE:  runSeedRooms,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", cliName, version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	// Seed Setup
	if err := a.seedRooms(ctx); err != nil {
		log.Warn("Failed to seed rooms :(", "error", err)
	}

	// the in-memory queue is only visible to this process
	workersDone := make(chan struct{})
	if a.cfg.ExchangeMode == config.ExchangeModeAsync && a.cfg.QueueBackend == config.QueueMemory {
		go func() {
			defer close(workersDone)
			a.newWorker().Run(ctx)
		}()
	} else {
		close(workersDone)
	}

	// Router Setup
	log.Info("Setting Up Router from Main now...")
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		AllowedOrigins: a.cfg.AllowedOrigins,
		AuthHandler:    handlers.NewAuthHandler(a.authService),
		AuthMiddleware: middleware.NewAuthMiddleware(log, a.authService),
		RoomHandler:    handlers.NewRoomHandler(a.roomService),
		MessageHandler: handlers.NewMessageHandler(a.exchangeService, a.cfg.ExchangeMode),
		HealthHandler:  handlers.NewHealthHandler(a.store.DB(), a.cfg.AppName, a.cfg.Version),
	})
	log.Info("Router Set Up From Main Successful :)")

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", "port", a.cfg.Port, "mode", a.cfg.ExchangeMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.AI.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "error", err)
	}
	stop()
	<-workersDone
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.QueueBackend != config.QueueRedis {
		return errors.New("worker needs QUEUE_BACKEND=redis; the memory queue is served by 'serve'")
	}
	a.newWorker().Run(ctx)
	return nil
}

func runClearRooms(cmd *cobra.Command, args []string) error {
	archive, _ := cmd.Flags().GetBool("archive")
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.roomService.ClearRooms(ctx, archive)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rooms and %d messages\n", res.Rooms, res.Messages)
	for _, key := range res.Archived {
		fmt.Printf("archived %s\n", key)
	}
	return nil
}

func runSeedRooms(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Seed.RoomsPath == "" {
		return errors.New("SEED_ROOMS_JSON_PATH is not set")
	}
	return a.seedRooms(ctx)
}
