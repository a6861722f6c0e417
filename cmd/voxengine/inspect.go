package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hammamikhairi/voxengine/internal/commands"
	"github.com/hammamikhairi/voxengine/internal/config"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/parser"
)

var inspectFlags struct {
	screen    string
	threshold float64
	commands  string
	addr      string
	follow    bool
}

var parseCmd = &cobra.Command{
	Use:   "parse TEXT...",
	Short: "Show how an utterance is parsed",
	Long: `Runs the intent parser over TEXT against the built-in command tables
(plus --commands, if given) and prints the result as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the command tables",
	Args:  cobra.NoArgs,
	RunE:  runCommands,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Query a running session's diagnostics API",
	Long: `Fetches /diagnose from a session started with "run --server" and prints
it. With --follow it streams session events until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runDiagnose,
}

func init() {
	parseCmd.Flags().StringVar(&inspectFlags.screen, "screen", commands.ScreenHome, "active screen")
	parseCmd.Flags().Float64Var(&inspectFlags.threshold, "threshold", domain.DefaultSettings().ConfidenceThreshold, "confidence threshold")
	for _, c := range []*cobra.Command{parseCmd, commandsCmd} {
		c.Flags().StringVar(&inspectFlags.commands, "commands", "", "YAML command table file")
	}
	commandsCmd.Flags().StringVar(&inspectFlags.screen, "screen", "", "only list this screen (and universal)")

	diagnoseCmd.Flags().StringVar(&inspectFlags.addr, "addr", "", "diagnostics API address (default from config)")
	diagnoseCmd.Flags().BoolVar(&inspectFlags.follow, "follow", false, "stream session events")

	rootCmd.AddCommand(parseCmd, commandsCmd, diagnoseCmd)
}

// quietLogger is used by the one-shot commands, which print their own
// output.
func quietLogger() *logger.Logger {
	if verbose {
		return logger.New(logger.LevelVerbose, os.Stderr)
	}
	return logger.New(logger.LevelOff, nil)
}

func loadRegistry(log *logger.Logger) (*commands.Registry, error) {
	registry, err := commands.NewRegistry(log, commands.Defaults()...)
	if err != nil {
		return nil, err
	}
	if inspectFlags.commands != "" {
		if _, err := registry.LoadFile(inspectFlags.commands); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func runParse(cmd *cobra.Command, args []string) error {
	log := quietLogger()
	registry, err := loadRegistry(log)
	if err != nil {
		return err
	}
	p := parser.New(registry, log)
	result := p.Parse(strings.Join(args, " "), inspectFlags.screen, inspectFlags.threshold)
	return printJSON(cmd.OutOrStdout(), result)
}

func runCommands(cmd *cobra.Command, _ []string) error {
	registry, err := loadRegistry(quietLogger())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	screens := registry.Screens()
	if inspectFlags.screen != "" {
		screens = []string{inspectFlags.screen, domain.UniversalScreen}
	}
	for _, screen := range screens {
		entries, universal := registry.Entries(screen)
		if screen == domain.UniversalScreen {
			entries = universal
		}
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", screen)
		for _, e := range entries {
			fmt.Fprintf(w, "  %-18s %.2f  %s\n", e.Name, e.BaseConfidence, strings.Join(e.Keywords, ", "))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runDiagnose(cmd *cobra.Command, _ []string) error {
	addr := inspectFlags.addr
	if addr == "" {
		config.LoadDotEnv()
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}

	if inspectFlags.follow {
		return followEvents(cmd.OutOrStdout(), addr)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/diagnose", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("diagnose returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var d map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return fmt.Errorf("decoding diagnostics: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), d)
}

// followEvents prints every event the session publishes until interrupted.
func followEvents(w io.Writer, addr string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/events"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var env struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintf(w, "%s %-18s %s\n", time.Now().Format("15:04:05"), env.Kind, env.Data)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
