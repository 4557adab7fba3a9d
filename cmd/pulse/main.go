// Command pulse runs the event pipeline as a standalone shipper: events
// arrive as NDJSON on stdin and leave through the configured sinks. The
// health subcommand probes a running instance.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pulse/internal/config"
	"github.com/crimson-sun/pulse/internal/health"
	"github.com/crimson-sun/pulse/internal/logging"
	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/opctx"
	"github.com/crimson-sun/pulse/internal/pipeline"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pulse",
		Short:         "resilient asynchronous observability event pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "pulse.yaml", "configuration file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(healthCmd(&configPath))
	return root
}

// inRecord is one stdin line. Unknown severities fall back to info; a line
// that is not JSON at all becomes an info event with the line as message.
type inRecord struct {
	Severity      string         `json:"severity"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
	Attributes    map[string]any `json:"attributes"`
}

func runCmd(configPath *string) *cobra.Command {
	var service, environment string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "read NDJSON events from stdin and deliver them to the configured sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.JSON, logging.ParseLevel(cfg.Logging.Level))

			p, err := pipeline.New(cfg, pipeline.WithService(service, environment))
			if err != nil {
				return err
			}
			defer p.Close()

			if cfg.Health.ListenAddr != "" {
				srv := &http.Server{Addr: cfg.Health.ListenAddr, Handler: health.Handler(p.Health())}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("health listener failed", "addr", cfg.Health.ListenAddr, "error", err)
					}
				}()
				defer srv.Close()
				slog.Info("health endpoint up", "addr", cfg.Health.ListenAddr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			slog.Info("pulse running", "service", service, "sinks", len(cfg.Sinks))
			for {
				select {
				case sig := <-sigCh:
					slog.Info("shutting down", "signal", sig.String())
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if line == "" {
						continue
					}
					emitLine(p, line)
				}
			}
		},
	}
	cmd.Flags().StringVar(&service, "service", "pulse", "service name stamped on events")
	cmd.Flags().StringVar(&environment, "environment", "production", "deployment environment")
	return cmd
}

func emitLine(p *pipeline.Pipeline, line string) {
	var rec inRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		p.Emit(nil, model.SeverityInfo, line, nil)
		return
	}
	var c *opctx.Context
	if rec.CorrelationID != "" {
		c = opctx.FromUpstream(rec.CorrelationID)
	}
	p.Emit(c, model.ParseSeverity(rec.Severity), rec.Message, rec.Attributes)
}

func healthCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "probe a running instance and print its health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				addr = cfg.Health.ListenAddr
			}
			if addr == "" {
				return errors.New("no health address: set health.listen_addr or --addr")
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + addr + "/")
			if err != nil {
				return fmt.Errorf("probe %s: %w", addr, err)
			}
			defer resp.Body.Close()

			var snap health.Snapshot
			if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
				return fmt.Errorf("probe %s: bad response: %w", addr, err)
			}
			health.Render(cmd.OutOrStdout(), snap)

			if snap.Status == health.StatusFailing {
				return errors.New("pipeline is failing")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health endpoint address (host:port)")
	return cmd
}
