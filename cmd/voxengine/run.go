package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hammamikhairi/voxengine/internal/backend"
	"github.com/hammamikhairi/voxengine/internal/commands"
	"github.com/hammamikhairi/voxengine/internal/config"
	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/display"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/parser"
	"github.com/hammamikhairi/voxengine/internal/recognition"
	"github.com/hammamikhairi/voxengine/internal/server"
	"github.com/hammamikhairi/voxengine/internal/session"
	"github.com/hammamikhairi/voxengine/internal/speech"
	"github.com/hammamikhairi/voxengine/internal/store"
)

var runFlags struct {
	input    string
	output   string
	store    string
	commands string
	watch    bool
	policy   string
	server   bool
	addr     string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive voice session",
	Long: `Starts the voice session with a live console.

Press Enter on an empty line to start or stop listening. With typed input
(the default) any other line is recognized as an utterance. Lines starting
with "/" are console commands; type /help to list them.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.input, "input", "", "recognition engine: text or whisper")
	f.StringVar(&runFlags.output, "output", "", "speech engine: console or azure")
	f.StringVar(&runFlags.store, "store", "", "settings store: memory, file, sqlite or redis")
	f.StringVar(&runFlags.commands, "commands", "", "YAML command table file")
	f.BoolVar(&runFlags.watch, "watch", false, "reload the command table file when it changes")
	f.StringVar(&runFlags.policy, "policy", "", "destructive command policy: log or require")
	f.BoolVar(&runFlags.server, "server", false, "serve the diagnostics API")
	f.StringVar(&runFlags.addr, "addr", "", "diagnostics API listen address")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides cfg with the run flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.Input.Engine = runFlags.input
	}
	if f.Changed("output") {
		cfg.Output.Engine = runFlags.output
	}
	if f.Changed("store") {
		cfg.Store.Kind = runFlags.store
	}
	if f.Changed("commands") {
		cfg.Commands.File = runFlags.commands
	}
	if f.Changed("watch") {
		cfg.Commands.Watch = runFlags.watch
	}
	if f.Changed("policy") {
		cfg.Policy.Confirm = runFlags.policy
	}
	if f.Changed("server") {
		cfg.Server.Enabled = runFlags.server
	}
	if f.Changed("addr") {
		cfg.Server.Addr = runFlags.addr
	}
	return cfg.Validate()
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}

	log := newLogger(cfg.Log)
	defer log.Sync()

	// Cancelled on SIGTERM or when the console quits.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stores, err := openStores(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.close(); err != nil {
			log.Error("closing store: %v", err)
		}
	}()

	registry, err := commands.NewRegistry(log, commands.Defaults()...)
	if err != nil {
		return err
	}
	if cfg.Commands.File != "" {
		n, err := registry.LoadFile(cfg.Commands.File)
		if err != nil {
			return err
		}
		log.Info("loaded %d command entries from %s", n, cfg.Commands.File)
	}
	p := parser.New(registry, log)

	// Recognition.
	var (
		engine domain.RecognitionEngine
		typed  *recognition.TextEngine
	)
	switch cfg.Input.Engine {
	case "whisper":
		if _, err := os.Stat(cfg.Input.WhisperModel); err != nil {
			return fmt.Errorf("whisper model not found at %s", cfg.Input.WhisperModel)
		}
		engine = recognition.NewWhisperEngine(cfg.Input.WhisperBin, cfg.Input.WhisperModel, log,
			recognition.WithChunkDuration(cfg.Input.ChunkDuration.Duration),
			recognition.WithEndpointChunks(cfg.Input.EndpointChunks),
			recognition.WithTempDir(cfg.Input.TempDir),
		)
		log.Info("voice input enabled (bin=%s, model=%s, chunk=%s)",
			cfg.Input.WhisperBin, cfg.Input.WhisperModel, cfg.Input.ChunkDuration.Duration)
	default:
		typed = recognition.NewTextEngine()
		engine = typed
	}
	adapter := recognition.NewAdapter(engine, log,
		recognition.WithStartGrace(cfg.Input.StartGrace.Duration))

	// The console UI reads the session through this closure; sess is set
	// before the UI starts.
	var (
		sess  *session.Session
		queue *speech.Queue
	)
	ui := display.NewUI(func() display.Status {
		if sess == nil {
			return display.Status{}
		}
		return display.Status{
			State:      sess.State(),
			Screen:     sess.Screen(),
			Transcript: sess.CurrentTranscript(),
			Pending:    queue.Len(),
			Language:   sess.Settings().InputLanguage,
		}
	})

	// Speech.
	console := speech.NewConsoleEngine(log, ui.Printf, cfg.Output.WordPace.Duration)
	var (
		out   domain.SpeechEngine = console
		synth *speech.SynthEngine
	)
	if cfg.Output.Engine == "azure" {
		var azOpts []speech.AzureOption
		if cfg.Output.Voice != "" {
			azOpts = append(azOpts, speech.WithVoice(cfg.Output.Voice))
		}
		tts := speech.NewAzureClient(cfg.Output.AzureKey, cfg.Output.AzureRegion, log, azOpts...)
		player, err := speech.NewPlayer(log)
		if err != nil {
			log.Error("audio player init failed, speaking to the console: %v", err)
		} else {
			synth = speech.NewSynthEngine(tts, player, log,
				speech.WithChunkSize(cfg.Output.ChunkSize),
				speech.WithCacheDir(cfg.Output.CacheDir),
				speech.WithDiskWrite(cfg.Output.DiskCache),
			)
			out = synth
			log.Info("TTS enabled (voice=%s, region=%s)", tts.Voice(), cfg.Output.AzureRegion)
		}
	}
	queue = speech.NewQueue(out, log)
	queue.Start(ctx)

	// Dispatch.
	dispOpts := []dispatch.Option{
		dispatch.WithPolicy(dispatch.ConfirmPolicy(cfg.Policy.Confirm)),
		dispatch.WithConfirmWindow(cfg.Policy.Window.Duration),
	}
	if cfg.Store.History && stores.history != nil {
		dispOpts = append(dispOpts, dispatch.WithHistoryStore(stores.history))
	}
	dispatcher := dispatch.New(log, dispOpts...)

	app := newDemoApp(registry, queue.LastSpoken, log)
	if cfg.Backend.Enabled() {
		client := backend.NewClient(cfg.Backend.Endpoint, cfg.Backend.Key, log,
			backend.WithModel(cfg.Backend.Model),
			backend.WithHTTPTimeout(cfg.Backend.Timeout.Duration),
		)
		app.completer = backend.NewCompleter(client, log, backend.WithContext(app.describe))
		log.Info("completion backend enabled (model=%s)", cfg.Backend.Model)
	} else {
		log.Info("completion backend disabled: set %s and %s to enable",
			config.EnvBackendEndpoint, config.EnvBackendKey)
	}
	app.register(dispatcher)

	sessOpts := []session.Option{
		session.WithInitialScreen(commands.ScreenHome),
		session.WithVoicePreference(config.VoicePreference),
	}
	if stores.settings != nil {
		sessOpts = append(sessOpts, session.WithSettingsStore(stores.settings))
	}
	sess = session.New(adapter, queue, p, dispatcher, log, sessOpts...)
	defer sess.Destroy()

	spoken := synth != nil
	observer := domain.ObserverFunc(func(ev domain.Event) {
		// The console engine already prints what it says.
		if _, ok := ev.(domain.Feedback); ok && !spoken && willSpeak(sess.Settings()) {
			ui.Refresh()
			return
		}
		ui.OnEvent(ev)
	})
	if err := sess.Initialize(ctx, observer); err != nil {
		return err
	}
	if st := sess.Settings(); synth != nil {
		synth.Prefetch(ctx, domain.TTSRequest{
			Rate:     st.Rate,
			Pitch:    st.Pitch,
			Volume:   st.Volume,
			Language: st.OutputLanguage,
		}, speech.LineWelcome(), speech.LineNoResults(), speech.LineCancelled(), speech.LineBye())
	}

	if cfg.Commands.File != "" && cfg.Commands.Watch {
		watcher := commands.NewWatcher(registry, cfg.Commands.File, log,
			commands.WithReloadHook(func(n int, err error) {
				if err != nil {
					ui.PrintUrgent(fmt.Sprintf("command table reload failed: %v", err))
					return
				}
				ui.PrintHint(fmt.Sprintf("command tables reloaded (%d entries)", n))
			}),
		)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srvOpts := []server.Option{server.WithRateLimit(cfg.Server.Rate, cfg.Server.Burst)}
		if typed != nil {
			srvOpts = append(srvOpts, server.WithTranscriptSink(typed))
		}
		srv = server.New(sess, log, srvOpts...)
		go func() {
			if err := srv.Start(cfg.Server.Addr); err != nil {
				log.Error("server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("server shutdown: %v", err)
			}
		}()
	}

	c := &consoleApp{
		sess:  sess,
		typed: typed,
		ui:    ui,
		log:   log,
	}

	info := display.BannerInfo{
		Session: sess.ID(),
		Input:   cfg.Input.Engine,
		Output:  "console",
		Store:   cfg.Store.Kind,
		Hint:    "Type what you would say, /help for console commands, 'quit' to exit.",
	}
	if synth != nil {
		info.Output = "azure"
	}
	if typed == nil {
		info.Hint = "Voice mode ON. Press Enter to talk, type /help for console commands."
	}
	if srv != nil {
		info.Server = cfg.Server.Addr
	}
	fmt.Println(display.RenderBanner(info, 0))

	// Run app logic in a background goroutine.
	go func() {
		ui.WaitReady()
		c.run(ctx)
		ui.Quit()
	}()

	// Bubble Tea owns the terminal and blocks until quit.
	if err := ui.Run(); err != nil {
		log.Error("display: %v", err)
	}
	cancel()
	return nil
}

// willSpeak reports whether feedback is passed to the speech engine.
func willSpeak(st domain.Settings) bool {
	return st.VoiceEnabled && st.AutoFeedback
}

// storeSet bundles the persistence backends chosen by config.
type storeSet struct {
	settings domain.SettingsStore
	history  domain.HistoryStore // nil when the backend keeps no history
	close    func() error
}

func openStores(ctx context.Context, sc config.StoreConfig, log *logger.Logger) (storeSet, error) {
	switch sc.Kind {
	case "file":
		fs, err := store.NewFileStore(sc.Path, log)
		if err != nil {
			return storeSet{}, err
		}
		return storeSet{settings: fs, close: fs.Close}, nil
	case "sqlite":
		db, err := store.NewSQLiteStore(sc.Path, log)
		if err != nil {
			return storeSet{}, err
		}
		return storeSet{settings: db, history: db, close: db.Close}, nil
	case "redis":
		rs, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		}, log)
		if err != nil {
			return storeSet{}, err
		}
		return storeSet{settings: rs, close: rs.Close}, nil
	default:
		ms := store.NewMemoryStore(log)
		return storeSet{settings: ms, history: ms, close: ms.Close}, nil
	}
}
