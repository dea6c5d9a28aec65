// Package client parses client command flags and runs the terminal client.
package client

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/louisbranch/omniscript/internal/engine"
	entrypoint "github.com/louisbranch/omniscript/internal/platform/cmd"
	"github.com/louisbranch/omniscript/internal/platform/id"
	"github.com/louisbranch/omniscript/internal/session"
	"github.com/louisbranch/omniscript/internal/storage/sqlite"
	"github.com/louisbranch/omniscript/internal/telemetry"
	"github.com/louisbranch/omniscript/internal/visibility"
)

// Config holds client command configuration.
type Config struct {
	RelayURL    string `env:"OMNISCRIPT_RELAY_URL"       envDefault:"ws://localhost:8090/ws"`
	DisplayName string `env:"OMNISCRIPT_DISPLAY_NAME"`
	Token       string `env:"OMNISCRIPT_IDENTITY_TOKEN"`
	DBPath      string `env:"OMNISCRIPT_DB_PATH"         envDefault:"omniscript.db"`
	EngineURL   string `env:"OMNISCRIPT_ENGINE_URL"`
	EngineModel string `env:"OMNISCRIPT_ENGINE_MODEL"    envDefault:"gpt-4.1-mini"`
	EngineKey   string `env:"OMNISCRIPT_ENGINE_API_KEY"`
	Debug       bool   `env:"OMNISCRIPT_DEBUG"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "relay websocket URL")
	fs.StringVar(&cfg.DisplayName, "name", cfg.DisplayName, "player display name")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "signed identity token")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "local state database path")
	fs.StringVar(&cfg.EngineURL, "engine-url", cfg.EngineURL, "engine responses endpoint")
	fs.StringVar(&cfg.EngineModel, "engine-model", cfg.EngineModel, "engine model id")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "reveal hidden files in listings")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the terminal client and blocks until the input ends or the
// context is canceled.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceClient, func(context.Context) error {
		identity, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate identity: %w", err)
		}
		displayName := strings.TrimSpace(cfg.DisplayName)
		if displayName == "" {
			displayName = "Guest_" + identity[:4]
		}

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		defer store.Close()

		eng := engine.NewHTTP(engine.HTTPConfig{
			ResponsesURL: cfg.EngineURL,
			Model:        cfg.EngineModel,
			Credential:   cfg.EngineKey,
		})

		ui := &terminal{out: out, viewer: displayName, debug: cfg.Debug}

		managerCfg := session.Config{
			RelayURL:    cfg.RelayURL,
			Identity:    identity,
			DisplayName: displayName,
			Token:       cfg.Token,
			Engine:      eng,
			Cache:       store,
			Telemetry:   telemetry.NewEmitter(store),
		}
		if cfg.Token != "" {
			managerCfg.Remote = store
		}
		manager, err := session.New(managerCfg)
		if err != nil {
			return fmt.Errorf("init session: %w", err)
		}
		manager.SetOnChange(func() { ui.render(manager.Snapshot()) })
		defer manager.Leave()

		fmt.Fprintf(out, "Connected as %s. /help for commands.\n", displayName)
		ui.render(manager.Snapshot())

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if err := ui.dispatch(ctx, manager, line); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		return nil
	})
}

// terminal renders visibility-filtered session state to one viewer.
type terminal struct {
	mu       sync.Mutex
	out      io.Writer
	viewer   string
	debug    bool
	lastSeen string
}

// dispatch routes one input line: slash commands drive the session, anything
// else is an action submission.
func (t *terminal) dispatch(ctx context.Context, manager *session.Manager, line string) error {
	if !strings.HasPrefix(line, "/") {
		return manager.SubmitAction(ctx, line)
	}

	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/create":
		code, err := manager.Create(ctx)
		if err != nil {
			return err
		}
		t.printf("Session created. Code: %s\n", code)
		return nil
	case "/join":
		if arg == "" {
			return fmt.Errorf("usage: /join CODE")
		}
		if err := manager.Join(ctx, arg); err != nil {
			return err
		}
		t.printf("Joined session %s.\n", strings.ToUpper(arg))
		return nil
	case "/leave":
		manager.Leave()
		t.printf("Left session.\n")
		return nil
	case "/force":
		return manager.ForceTurn()
	case "/kick":
		if arg == "" {
			return fmt.Errorf("usage: /kick IDENTITY")
		}
		return manager.Kick(arg)
	case "/members":
		t.renderMembers(manager.Snapshot())
		return nil
	case "/files":
		t.renderFiles(manager.Snapshot())
		return nil
	case "/reset":
		return manager.Reset()
	case "/help":
		t.printf("commands: /create /join CODE /leave /force /kick IDENTITY /members /files /reset /quit\n")
		return nil
	}
	return fmt.Errorf("unknown command %s", fields[0])
}

// render prints history entries this viewer has not yet seen.
func (t *terminal) render(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := snap.State.History
	start := 0
	if t.lastSeen != "" {
		// Everything after the last printed entry is new. When that entry
		// is gone the world was replaced underneath us (snapshot or reset)
		// and the whole log is new.
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ID == t.lastSeen {
				start = i + 1
				break
			}
		}
	}
	for _, entry := range history[start:] {
		text := visibility.Render(entry.Text, t.viewer)
		if strings.TrimSpace(text) == "" {
			continue
		}
		t.printfLocked("[%s] %s\n", entry.Kind, text)
	}
	t.lastSeen = ""
	if len(history) > 0 {
		t.lastSeen = history[len(history)-1].ID
	}
}

func (t *terminal) renderMembers(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, member := range snap.Members {
		marker := ""
		if member.Identity == snap.Authority {
			marker = " (host)"
		}
		if member.Dead {
			marker += " (dead)"
		}
		t.printfLocked("%s %s%s\n", member.Identity, member.DisplayName, marker)
	}
}

func (t *terminal) renderFiles(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, listing := range visibility.ListFiles(snap.State.Files, t.viewer, t.debug) {
		line := listing.DisplayName
		if listing.HasHiddenLayer {
			line += " *"
		}
		t.printfLocked("%s\n", line)
	}
	t.printfLocked("world time: %ds\n", snap.State.WorldTime)
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printfLocked(format, args...)
}

func (t *terminal) printfLocked(format string, args ...any) {
	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		log.Printf("client: write output: %v", err)
	}
}
