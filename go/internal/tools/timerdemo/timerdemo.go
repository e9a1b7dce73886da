package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/relay/go/clients/relayclient"
	"github.com/mcdev12/relay/go/internal/config"
	"github.com/mcdev12/relay/go/internal/timer"
)

const usage = `usage: timerdemo [watch|run|stop|resume|reset|publish <text>]`

func main() {
	_ = godotenv.Load()

	baseURL := getEnv("RELAY_URL", "http://localhost:8080")
	cmd, args := "watch", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, baseURL, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "timerdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, baseURL, cmd string, args []string) error {
	client := relayclient.NewClient(baseURL)

	if cmd == "publish" {
		if len(args) == 0 {
			return errors.New(usage)
		}
		resp, err := client.Publish(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("published %s on %s\n", resp.Name, resp.Channel)
		return nil
	}

	// 1) Load the channel layout
	cfg, err := config.Load(getEnv("RELAY_CONFIG", config.DefaultPath))
	if err != nil {
		return err
	}

	// 2) Connect, with a token when the gateway issues them
	rtCfg := relayclient.DefaultRealtimeConfig()
	rtCfg.URL = "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	tok, err := client.Token(ctx, "")
	var statusErr *relayclient.StatusError
	switch {
	case err == nil:
		rtCfg.Token = tok.Token
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotImplemented:
		// anonymous gateway
	default:
		return fmt.Errorf("request token: %w", err)
	}

	rt, err := relayclient.Dial(ctx, rtCfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// 3) Join the timer group
	display := newDisplay(cfg.Timers.IDs)
	group, err := timer.NewGroup(rt, cfg.GroupConfig(), cfg.TimerConfig(), display.update)
	if err != nil {
		return err
	}
	defer group.Close()

	switch cmd {
	case "watch":
	case "run":
		err = group.RunAll(ctx)
	case "stop":
		err = group.StopAll(ctx)
	case "resume":
		err = group.ResumeAll(ctx)
	case "reset":
		err = group.ResetAll(ctx)
	default:
		return errors.New(usage)
	}
	if err != nil {
		return err
	}

	// 4) Print the timers until interrupted or disconnected
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !rt.Connected() {
				return errors.New("disconnected from relay")
			}
			fmt.Println(display.line())
		}
	}
}

// display keeps the latest state of each timer for printing.
type display struct {
	mu     sync.Mutex
	ids    []string
	states map[string]timer.State
}

func newDisplay(ids []string) *display {
	return &display{ids: ids, states: make(map[string]timer.State)}
}

func (d *display) update(id string, s timer.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[id] = s
}

func (d *display) line() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := make([]string, 0, len(d.ids))
	for _, id := range d.ids {
		s := d.states[id]
		parts = append(parts, fmt.Sprintf("timer %s: %s (%s)", id, s.Elapsed, s.Status))
	}
	return strings.Join(parts, " | ")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
