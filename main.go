// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	markdownExtensions = []string{".md", ".mdown", ".mkdn", ".mkd", ".markdown"}

	configFile   string
	useClipboard bool
	markdown     bool
	plain        bool
	voice        string
	width        uint

	rootCmd = &cobra.Command{
		Use:   "readaloud [TEXT|FILE|-]",
		Short: "Read text aloud through a speech server",
		Long: paragraph(
			fmt.Sprintf("\nRead text aloud, %s, through an OpenAI-compatible speech server.", keyword("one chunk at a time")),
		),
		Example:          paragraph("readaloud \"Hello there.\"\nreadaloud README.md\npbpaste | readaloud -\nreadaloud --clipboard"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfigFlag(cmd)
		},
		RunE: execute,
	}
)

// source is the text to read and where it came from.
type source struct {
	text  string
	title string
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// sourceFromArgs resolves the input: the clipboard, stdin, a file, or the
// arguments themselves.
func sourceFromArgs(args []string) (*source, error) {
	if useClipboard {
		text, err := clipboard.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("unable to read clipboard: %w", err)
		}
		return &source{text: text, title: "clipboard"}, nil
	}

	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		if pipe, err := stdinIsPipe(); err != nil {
			return nil, err
		} else if !pipe && len(args) == 0 {
			return nil, errors.New("nothing to read: pass text, a file, or pipe into stdin")
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("unable to read from stdin: %w", err)
		}
		return &source{text: string(b), title: "stdin"}, nil
	}

	if len(args) == 1 {
		st, err := os.Stat(args[0])
		switch {
		case err == nil && !st.IsDir():
			b, err := os.ReadFile(args[0])
			if err != nil {
				return nil, fmt.Errorf("unable to open file: %w", err)
			}
			return &source{text: string(b), title: args[0]}, nil
		case err == nil:
			return nil, fmt.Errorf("%s is a directory", args[0])
		}
	}

	return &source{text: strings.Join(args, " ")}, nil
}

func isMarkdownFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range markdownExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// loadConfigFlag reads the file named by --config, replacing the one found
// in the default places.
func loadConfigFlag(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("config") {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	log.Debug("Using configuration file", "path", configFile)
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	plain = viper.GetBool("plain")
	isTerminal := term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
	if !isTerminal {
		plain = true
	}

	if !cmd.Flags().Changed("width") && isTerminal && width == 0 {
		w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
		if err == nil {
			width = uint(min(w, 120)) //nolint:gosec
		}
	}
	if width == 0 {
		width = 80
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	if err := validateOptions(cmd); err != nil {
		return err
	}

	src, err := sourceFromArgs(args)
	if err != nil {
		return err
	}

	text := src.text
	if markdown || isMarkdownFile(src.title) {
		text = segment.StripMarkdown(text)
	}
	text = segment.Normalize(text)
	if text == "" {
		return segment.ErrNoText
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if voice != "" {
		a.config.Override(config.KeyVoice, voice)
	}

	if plain {
		return runPlain(ctx, a, text)
	}
	return runTUI(ctx, a, src, text)
}

// play starts the session in the background. The channel yields Play's result.
func play(ctx context.Context, a *app, text string) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.sup.Play(ctx, text) }()
	return errCh
}

func runTUI(ctx context.Context, a *app, src *source, text string) error {
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	settings, err := a.config.Load(ctx)
	if err != nil {
		return err
	}
	cfg.Chunks = segment.Split(text, settings.ChunkSize)
	cfg.Title = src.title
	cfg.MaxWidth = width

	p := ui.NewProgram(cfg, a.sup)
	errCh := play(ctx, a, text)
	failed := make(chan error, 1)
	go func() {
		if err := <-errCh; err != nil {
			failed <- err
			p.Quit()
		}
	}()

	m, err := p.Run()
	if err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}

	select {
	case err := <-failed:
		if errors.Is(err, supervisor.ErrStopped) {
			return nil
		}
		return errors.New(supervisor.UserMessage(err))
	default:
	}
	if model, ok := m.(*ui.Model); ok {
		if msg := model.Final().LastError; msg != "" {
			return errors.New(msg)
		}
	}
	return nil
}

func runPlain(ctx context.Context, a *app, text string) error {
	updates, unsubscribe := a.sup.Subscribe(16)
	defer unsubscribe()

	errCh := play(ctx, a, text)
	started, lastChunk := false, -1

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = a.sup.Stop(stopCtx)
			return nil

		case err := <-errCh:
			if err != nil {
				return errors.New(supervisor.UserMessage(err))
			}
			errCh = nil

		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if st.IsProcessing && st.ProcessingMessage != "" {
				fmt.Fprintln(os.Stderr, faint(st.ProcessingMessage))
			}
			if st.LastError != "" && st.Active() {
				fmt.Fprintln(os.Stderr, failure(st.LastError))
			}
			if st.IsPlaying && st.CurrentChunk != lastChunk {
				lastChunk = st.CurrentChunk
				fmt.Fprintf(os.Stderr, "%s %d/%d\n", keyword("▶"), st.CurrentChunk+1, st.TotalChunks)
			}
			if st.Active() {
				started = true
				continue
			}
			if started {
				if st.LastError != "" {
					return errors.New(st.LastError)
				}
				return nil
			}
		}
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().BoolVarP(&useClipboard, "clipboard", "c", false, "read the clipboard contents")
	rootCmd.Flags().BoolVarP(&markdown, "markdown", "m", false, "treat the input as markdown (implied for .md files)")
	rootCmd.Flags().BoolVarP(&plain, "plain", "p", false, "print progress lines instead of the interactive view")
	rootCmd.Flags().StringVarP(&voice, "voice", "v", "", "voice id for this run")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "maximum width of the interactive view")

	// Config bindings
	_ = viper.BindPFlag("plain", rootCmd.Flags().Lookup("plain"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))

	config.SetDefaults(viper.GetViper())
	viper.SetDefault("plain", false)
	viper.SetDefault("width", 0)

	rootCmd.AddCommand(configCmd, manCmd, serveCmd, voicesCmd, previewCmd, checkCmd, keyCmd, setCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	// A .env file in the working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not load .env file", "err", err)
	}

	scope := gap.NewScope(gap.User, "readaloud")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readaloud")}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readaloud")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("readaloud")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "readaloud.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
