package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/duet-run/duet/internal/config"
	"github.com/duet-run/duet/internal/metrics"
	"github.com/duet-run/duet/internal/runtime"
	"github.com/duet-run/duet/internal/runtime/process"
	"github.com/duet-run/duet/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func newUpCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the server and inspector and supervise them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			return runSession(cmd, cfg, *ctx.logJSON)
		},
	}
	return cmd
}

func runSession(cmd *cobra.Command, cfg *config.Config, logJSON bool) error {
	spec := buildSessionSpec(cfg)

	if cfg.Metrics != nil && cfg.Metrics.Addr != "" {
		serveMetrics(cmd, cfg.Metrics.Addr)
	}

	sessionName := cfg.Name
	if sessionName == "" {
		sessionName = "duet"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Starting %s in %s\n", sessionName, cfg.ResolvedWorkdir)

	session, startErr := supervisor.Start(cmd.Context(), process.New(), spec)
	if session == nil {
		return startErr
	}

	printer := newEventPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), logJSON)
	var printerDone sync.WaitGroup
	printerDone.Add(1)
	go func() {
		defer printerDone.Done()
		printer.drain(session.Events())
	}()

	interrupted := startErr != nil
	if !interrupted {
		if _, err := session.Wait(cmd.Context()); err != nil {
			if !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, stdcontext.DeadlineExceeded) {
				stopCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
				session.Shutdown(stopCtx)
				cancel()
				session.Close()
				printerDone.Wait()
				return err
			}
			interrupted = true
		}
	}

	if interrupted {
		fmt.Fprintf(cmd.OutOrStdout(), "\nShutting down %s...\n", sessionName)
		stopCtx, cancel := stdcontext.WithTimeout(stdcontext.WithoutCancel(cmd.Context()), shutdownTimeout)
		session.Shutdown(stopCtx)
		cancel()
	} else {
		// Normal completion: both processes exited on their own, release
		// the session lock without issuing termination requests.
		stopCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
		session.Shutdown(stopCtx)
		cancel()
	}

	session.Close()
	printerDone.Wait()

	fmt.Fprintf(cmd.OutOrStdout(), "%s stopped.\n", sessionName)
	return nil
}

func buildSessionSpec(cfg *config.Config) supervisor.Spec {
	spec := supervisor.Spec{
		Name:           cfg.Name,
		Workdir:        cfg.ResolvedWorkdir,
		ReadinessDelay: cfg.ReadinessDelay.Duration,
		Server:         buildStartSpec("server", cfg, cfg.Server),
	}
	if cfg.Server.Readiness != nil {
		spec.Readiness = cfg.Server.Readiness.Clone()
	}
	if cfg.Inspector != nil {
		inspector := buildStartSpec("inspector", cfg, cfg.Inspector)
		spec.Inspector = &inspector
	}
	return spec
}

func buildStartSpec(name string, cfg *config.Config, proc *config.ProcessSpec) runtime.StartSpec {
	spec := runtime.StartSpec{
		Name:    name,
		Shell:   proc.Shell,
		Workdir: cfg.ResolvedWorkdir,
	}
	if len(proc.Command) > 0 {
		spec.Command = append([]string(nil), proc.Command...)
	}
	env := make(map[string]string, len(proc.Env)+1)
	for k, v := range proc.Env {
		env[k] = v
	}
	env[config.WorkdirEnv] = cfg.ResolvedWorkdir
	spec.Env = env
	return spec
}

func serveMetrics(cmd *cobra.Command, addr string) {
	handler := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "metrics listener: %v\n", err)
		}
	}()
	go func() {
		<-cmd.Context().Done()
		shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
