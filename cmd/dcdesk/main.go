package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/dcdesk/internal/app"
	"github.com/rescp17/dcdesk/internal/config"
	"github.com/rescp17/dcdesk/internal/instance"
)

type options struct {
	configPath       string
	nick             string
	logFile          string
	metricsAddr      string
	noSingleInstance bool
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.nick != "" {
		cfg.Nick = o.nick
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	if o.noSingleInstance {
		cfg.SingleInstance = false
	}
	return cfg, cfg.Validate()
}

// setupLogging sends logs to a file; the terminal belongs to the UI.
func setupLogging(path string, cfg *config.Config) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
	log.SetOutput(f)
	return func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}, nil
}

func instanceAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(instance.PortForCurrentUser()))
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dcdesk [dchub://address | adc://address | magnet:?...]...",
		Short: "A terminal Direct Connect client",
		Long: "dcdesk connects to Direct Connect hubs. Request lines given as arguments are\n" +
			"opened in the running instance if there is one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(opts.logFile, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			role, err := app.New(cfg, args).Run(cmd.Context())
			if err != nil {
				return err
			}
			if role == instance.RoleSecondary {
				cmd.Println("dcdesk is already running, request handed over.")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.FileName, "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.nick, "nick", "", "Nick to use on hubs, overrides the config")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "dcdesk.log", "File to write logs to")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.noSingleInstance, "no-single-instance", false, "Do not look for or become the running instance")

	portCmd := &cobra.Command{
		Use:   "port",
		Short: "Print the loopback port used to find a running instance",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(instance.PortForCurrentUser())
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <request>...",
		Short: "Hand request lines to the running instance without starting one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := instance.Forward(cmd.Context(), instanceAddr(), args, cfg.ProbeTimeout); err != nil {
				return fmt.Errorf("no running instance: %w", err)
			}
			cmd.Printf("Sent %d request(s).\n", len(args))
			return nil
		},
	}

	cmd.AddCommand(portCmd)
	cmd.AddCommand(sendCmd)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
