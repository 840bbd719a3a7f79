// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowkode/hubdir/pkg/auth"
	"github.com/flowkode/hubdir/pkg/debug"
	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/logger"
	"github.com/flowkode/hubdir/pkg/reconcile"
	"github.com/flowkode/hubdir/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the directory mirror",
	Long: `Run the mirror as a long-lived service: a scheduler drives full sync
cycles against the hub on a fixed period, and an operational HTTP surface
exposes metrics, health/readiness probes and a bind-check endpoint backed
by the authentication bridge.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	registerMirrorFlags(f)
	f.Duration("sync_interval", time.Minute, "Delay between the end of one sync cycle and the start of the next")
	f.Int("debug_port", 8090, "HTTP port for metrics, probes and the bind-check endpoint")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("hubdir", false)
	opts := loadMirrorOpts(cmd)
	f := NewFlagLoader(cmd)
	syncInterval := f.Duration("sync_interval")
	debugPort := f.Int("debug_port")

	debug.SetNotReady()

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	hubClient, err := opts.hubClient()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid hub configuration")
	}

	store, closeStore, err := opts.openStore()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open directory store")
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := directory.Bootstrap(ctx, store, opts.RootDN); err != nil {
		logger.Fatal().Err(err).Msg("could not bootstrap base tree")
	}

	engine := reconcile.NewEngine(hubClient, store, reconcile.Config{
		RootDN:      opts.RootDN,
		PageSize:    opts.PageSize,
		SyncSSHKeys: opts.SyncSSHKeys,
	})
	scheduler := reconcile.NewScheduler(engine, syncInterval)
	bridge := auth.NewBridge(hubClient, store)

	mux := debug.GetMux()
	mux.Handle("/v1/auth/check", bindCheckHandler(bridge))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", debugPort),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("debug server failed")
		}
	}()
	logger.Info().Int("port", debugPort).Msg("debug server listening")

	// Ready once the first cycle has completed successfully.
	debug.SetReadyCheck(scheduler.Synced)
	debug.SetReady()

	scheduler.Start()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}

// bindCheckHandler lets operators verify bind delegation without an LDAP
// client: POST {"bind_dn": ..., "password": ...} answers 200 or 401. The
// response carries no more detail than a real bind would.
func bindCheckHandler(bridge *auth.Bridge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			BindDN   string `json:"bind_dn"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		principal, err := bridge.Authenticate(r.Context(), req.BindDN, req.Password)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "authentication denied"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"dn":    principal.DN,
			"login": principal.Login,
			"level": principal.Level,
		})
	})
}
