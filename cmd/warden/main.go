package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/session"
	apiclient "github.com/wardenpanel/warden/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "servers":
		err = commandServers(args)
	case "console":
		err = commandConsole(args)
	case "metrics":
		err = commandMetrics(args)
	case "start", "stop", "restart", "kill":
		err = commandLifecycle(cmd, args)
	case "version", "--version", "-v":
		fmt.Printf("warden %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`warden - game server control panel CLI

Usage:
  warden login [--api URL]          store an access token for the panel
  warden servers                    list managed servers
  warden console <server-id>       attach to a server console (stdin sends commands)
  warden metrics <server-id>       print recent metric history
  warden start|stop|restart|kill <server-id>
  warden version`)
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".warden", "config.json"), nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{}, errors.New("not logged in, run: warden login")
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// commandLogin stores the operator's bearer token. Token issuance is handled
// by the external auth layer; the CLI just keeps the credential.
func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	api := fs.String("api", "http://localhost:4600", "Panel API base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Print("Access token: ")
	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return errors.New("token must not be empty")
	}
	if err := saveConfig(cliConfig{APIBaseURL: *api, AccessToken: token}); err != nil {
		return err
	}
	fmt.Println("credentials saved")
	return nil
}

func commandServers(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	api, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	servers, err := api.ListServers(context.Background(), cfg.AccessToken)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("no servers registered")
		return nil
	}
	for _, server := range servers {
		fmt.Printf("%-24s %-16s %-10s %s\n", server.ID, server.Name, server.Status, server.Game)
	}
	return nil
}

func commandMetrics(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: warden metrics <server-id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	api, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	snapshots, err := api.MetricHistory(context.Background(), cfg.AccessToken, args[0], 20)
	if err != nil {
		return err
	}
	for _, s := range snapshots {
		fmt.Printf("%s  cpu %5.1f%%  ram %6dMiB  tps %5.1f  players %d\n",
			s.At.Format("15:04:05"), s.CPUPercent, s.RAMBytes/(1<<20), s.TPS, s.Players)
	}
	return nil
}

func commandLifecycle(action string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden %s <server-id>", action)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	api, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	if err := api.Lifecycle(context.Background(), cfg.AccessToken, args[0], action); err != nil {
		return err
	}
	fmt.Printf("%s requested for %s\n", action, args[0])
	return nil
}

// commandConsole attaches a realtime session to one server's console. Typed
// lines are forwarded as commands; Ctrl-C detaches.
func commandConsole(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: warden console <server-id>")
	}
	serverID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint := wsEndpoint(cfg.APIBaseURL)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	sess := session.New(session.NewDialer(endpoint, cfg.AccessToken), log)
	sess.OnLine = func(line domain.ConsoleLine) {
		printLine(line)
	}
	sess.OnStatus = func(id domain.ServerID, status string) {
		if id == serverID {
			fmt.Fprintf(os.Stderr, "-- server %s is now %s\n", id, status)
		}
	}
	sess.OnError = func(msg string) {
		fmt.Fprintf(os.Stderr, "-- %s\n", msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Disconnect()

	// Seed the status table so SendCommand's running check reflects reality
	// before the first status frame.
	api, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	if server, err := fetchServer(ctx, api, cfg.AccessToken, serverID); err == nil {
		sess.SetStatus(serverID, server.Status)
	}

	sess.Subscribe(serverID)
	fmt.Fprintf(os.Stderr, "-- attached to %s (Ctrl-C to detach)\n", serverID)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
		close(input)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-input:
			if !ok {
				return nil
			}
			if err := sess.SendCommand(serverID, text); err != nil {
				fmt.Fprintf(os.Stderr, "-- command rejected: %v\n", err)
			}
		}
	}
}

func fetchServer(ctx context.Context, api *apiclient.Client, token, id string) (apiclient.Server, error) {
	servers, err := api.ListServers(ctx, token)
	if err != nil {
		return apiclient.Server{}, err
	}
	for _, server := range servers {
		if server.ID == id {
			return server, nil
		}
	}
	return apiclient.Server{}, fmt.Errorf("server %s not found", id)
}

func wsEndpoint(base string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		trimmed = "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		trimmed = "ws://" + strings.TrimPrefix(trimmed, "http://")
	default:
		trimmed = "ws://" + trimmed
	}
	return trimmed + "/ws/console"
}

func printLine(line domain.ConsoleLine) {
	switch line.Severity {
	case domain.SeverityError:
		fmt.Printf("\x1b[31m%s\x1b[0m\n", line.Text)
	case domain.SeverityWarning:
		fmt.Printf("\x1b[33m%s\x1b[0m\n", line.Text)
	default:
		fmt.Println(line.Text)
	}
}
