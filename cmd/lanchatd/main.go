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

	"github.com/lanchat/lanchat/pkg/channel"
	"github.com/lanchat/lanchat/pkg/coordinator"
	"github.com/lanchat/lanchat/pkg/discovery"
	"github.com/lanchat/lanchat/pkg/identity"
	"github.com/lanchat/lanchat/pkg/log"
	"github.com/lanchat/lanchat/pkg/metrics"
	"github.com/lanchat/lanchat/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lanchatd",
	Short: "lanchat - peer-to-peer encrypted messaging for a LAN",
	Long: `lanchatd is a peer-to-peer secure instant-messaging node. Identity is
bound to a smart card holding an X.509 certificate; peers establish
mutually-authenticated sessions over UDP and exchange messages under an
AEAD cipher. Local state is encrypted at rest with a key only the same
card can unwrap.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"lanchat version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a messaging node",
	Long: `Run a lanchat node: load the card identity, open the encrypted store,
bind the UDP channel, and start exchanging queued messages with every
reachable peer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nickname, _ := cmd.Flags().GetString("nickname")
		pinEnv, _ := cmd.Flags().GetString("pin-env")
		listenAddr, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		rosterPath, _ := cmd.Flags().GetString("roster")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		reconnectDeadline, _ := cmd.Flags().GetDuration("reconnect-deadline")
		ackTimeout, _ := cmd.Flags().GetDuration("ack-timeout")

		pin := os.Getenv(pinEnv)
		if pin == "" {
			return fmt.Errorf("PIN environment variable %s is empty", pinEnv)
		}

		return runNode(nodeConfig{
			nickname:          nickname,
			pin:               pin,
			listenAddr:        listenAddr,
			dataDir:           dataDir,
			rosterPath:        rosterPath,
			metricsAddr:       metricsAddr,
			reconnectDeadline: reconnectDeadline,
			ackTimeout:        ackTimeout,
		})
	},
}

func init() {
	serveCmd.Flags().String("nickname", "", "Nickname for the software card identity (required)")
	serveCmd.Flags().String("pin-env", "LANCHAT_PIN", "Environment variable holding the card PIN")
	serveCmd.Flags().String("listen", "0.0.0.0:9999", "UDP listen address")
	serveCmd.Flags().String("data-dir", defaultDataDir(), "Directory for the encrypted store")
	serveCmd.Flags().String("roster", "", "Path to a peers.yaml roster file (optional)")
	serveCmd.Flags().String("metrics-addr", "", "HTTP address for /metrics and health endpoints (disabled when empty)")
	serveCmd.Flags().Duration("reconnect-deadline", channel.DefaultReconnectDeadline, "How long to wait for a resumption response")
	serveCmd.Flags().Duration("ack-timeout", coordinator.DefaultAckTimeout, "How long a sent message waits for its ack")
	_ = serveCmd.MarkFlagRequired("nickname")
}

type nodeConfig struct {
	nickname          string
	pin               string
	listenAddr        string
	dataDir           string
	rosterPath        string
	metricsAddr       string
	reconnectDeadline time.Duration
	ackTimeout        time.Duration
}

func runNode(cfg nodeConfig) error {
	metrics.SetVersion(Version)

	// Identity first: everything else hangs off the card.
	reader, err := identity.NewSoftwareCardReader(cfg.nickname, cfg.pin, cfg.pin)
	if err != nil {
		return credentialError(err)
	}
	id, err := identity.Load(reader)
	if err != nil {
		return credentialError(err)
	}
	log.Logger.Info().Str("nickname", id.Nickname()).Msg("identity loaded")

	st, err := store.Open(cfg.dataDir, id.SerialNumber(), id.Sign)
	if err != nil {
		return fmt.Errorf("failed to open encrypted store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("store", true, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var coord *coordinator.Coordinator
	ch := channel.New(id, st, func(ev channel.Event) { coord.HandleEvent(ev) }, channel.Config{
		ListenAddr:        cfg.listenAddr,
		ReconnectDeadline: cfg.reconnectDeadline,
	})
	coord = coordinator.New(id.Nickname(), ch, st, coordinator.Config{
		AckTimeout: cfg.ackTimeout,
	})

	if err := ch.Start(ctx); err != nil {
		return err
	}
	defer ch.Stop()
	metrics.RegisterComponent("channel", true, "")

	coord.Start(ctx)
	defer coord.Stop()

	collector := metrics.NewCollector(st, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	var roster *discovery.StaticRoster
	if cfg.rosterPath != "" {
		roster = discovery.NewStaticRoster(cfg.rosterPath, 0)
		err := roster.Start(ctx, func(p discovery.Peer) {
			if err := st.UpsertContact(p.Nickname, map[string]any{
				"name": p.Nickname, "ip": p.IP, "port": p.Port,
			}); err != nil {
				log.Logger.Error().Err(err).Str("peer", p.Nickname).Msg("failed to record discovered peer")
				return
			}
			ch.Connect(p.IP, p.Port, p.Nickname)
		})
		if err != nil {
			return err
		}
		defer roster.Stop()
	}

	if cfg.metricsAddr != "" {
		go serveMetrics(cfg.metricsAddr)
	}

	// Pick up where the last run left off.
	go coord.ConnectAll(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

// credentialError translates the identity sentinels into operator-facing
// messages; these are fatal at startup.
func credentialError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNoToken):
		return fmt.Errorf("no smart card detected: %w", err)
	case errors.Is(err, identity.ErrBadPin):
		return fmt.Errorf("the card rejected the PIN: %w", err)
	case errors.Is(err, identity.ErrNoKey):
		return fmt.Errorf("the card has no usable signing key: %w", err)
	default:
		return err
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	log.Logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("metrics server stopped")
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lanchat"
	}
	return home + "/.lanchat"
}
