package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/handlers"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "katcon",
	Short: "katcon - task and assignment service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, change stream and deadline scheduler",
	RunE:  runServe,
}

var deadlinesCmd = &cobra.Command{
	Use:   "deadlines",
	Short: "Run one deadline scan now and print the report",
	RunE:  runDeadlines,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users and teams from a YAML file into the directory",
	RunE:  runSeed,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a directory user",
	RunE:  runToken,
}

var (
	seedFile   string
	tokenEmail string
)

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "directory.yaml", "seed file")
	tokenCmd.Flags().StringVarP(&tokenEmail, "email", "e", "", "user email")
	tokenCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(serveCmd, deadlinesCmd, seedCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run(ctx)
	if err := a.deadlines.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Auth:          a.auth,
			Tasks:         a.tasks,
			Notifications: a.notifications,
			Hub:           a.hub,
			CORSOrigins:   cfg.CORSAllowedOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runDeadlines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.deadlines.RunOnce(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.DirectorySeed = ""
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.seed(cmd.Context(), seedFile)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.auth.IssueToken(cmd.Context(), tokenEmail)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
