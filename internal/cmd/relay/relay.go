// Package relay parses relay command flags and runs the session relay.
package relay

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/omniscript/internal/auth"
	"github.com/louisbranch/omniscript/internal/channel"
	entrypoint "github.com/louisbranch/omniscript/internal/platform/cmd"
)

const shutdownTimeout = 10 * time.Second

// Config holds relay command configuration.
type Config struct {
	HTTPAddr string `env:"OMNISCRIPT_RELAY_HTTP_ADDR" envDefault:":8090"`
	// SigningKey enables join-token verification. Relays without a key
	// accept anonymous guests.
	SigningKey string `env:"OMNISCRIPT_RELAY_SIGNING_KEY"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.SigningKey, "signing-key", cfg.SigningKey, "identity token signing key")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay hub and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		hubCfg := channel.HubConfig{}
		if cfg.SigningKey != "" {
			signer, err := auth.NewSigner([]byte(cfg.SigningKey), nil)
			if err != nil {
				return fmt.Errorf("init token verifier: %w", err)
			}
			hubCfg.VerifyToken = func(token string) (string, error) {
				identity, err := signer.Verify(token)
				if err != nil {
					return "", err
				}
				return identity.ID, nil
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/ws", channel.NewHub(hubCfg))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

		serveErr := make(chan error, 1)
		log.Printf("relay listening on %s", cfg.HTTPAddr)
		go func() {
			serveErr <- server.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := server.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve relay: %w", err)
		}
	})
}
