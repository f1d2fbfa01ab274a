// Package main provides the entry point for the readalong CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/readalong/readalong/internal/config"
	"github.com/readalong/readalong/tts"
	"github.com/readalong/readalong/tts/align"
	"github.com/readalong/readalong/tts/audio"
	"github.com/readalong/readalong/tts/engines/mock"
	"github.com/readalong/readalong/tts/highlight"
	"github.com/readalong/readalong/tts/pipeline"
	"github.com/readalong/readalong/tts/sentence"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	engineName    string
	speed         float64
	noAlign       bool
	outPath       string
	timingPath    string
	play          bool
	fromParagraph int

	rootCmd = &cobra.Command{
		Use:   "readalong [FILE]",
		Short: "Stream text to speech with word-level highlighting",
		Long: "\nSynthesize a text document to speech incrementally, computing per-word\n" +
			"timings so a reader can highlight the word being spoken. Reads FILE, or\n" +
			"stdin when FILE is - or input is piped.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return applyFlagOverrides()
		},
		RunE: execute,
	}
)

// sentenceRecord is the JSON shape written by --timing: one entry per
// synthesized sentence in document order.
type sentenceRecord struct {
	Paragraph      int                  `json:"paragraph"`
	Sentence       int                  `json:"sentence"`
	Text           string               `json:"text"`
	SentenceOffset int                  `json:"sentence_offset"`
	AudioStart     float64              `json:"audio_start"`
	Alignment      *tts.AlignmentResult `json:"alignment,omitempty"`
}

func applyFlagOverrides() error {
	if engineName != "" {
		viper.Set("engine", engineName)
	}
	if speed != 0 {
		viper.Set("speed", speed)
	}
	if noAlign {
		viper.Set("align", false)
	}
	return nil
}

func readSource(args []string) ([]byte, string, error) {
	if len(args) == 0 || args[0] == "-" {
		stat, err := os.Stdin.Stat()
		if err != nil {
			return nil, "", fmt.Errorf("unable to stat stdin: %w", err)
		}
		if len(args) == 0 && stat.Mode()&os.ModeCharDevice != 0 && stat.Size() == 0 {
			return nil, "", errors.New("missing text source: pass a file or pipe text in")
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("unable to read stdin: %w", err)
		}
		return b, "stdin", nil
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("unable to open file: %w", err)
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		abs = args[0]
	}
	return b, abs, nil
}

// splitParagraphs breaks the source text on blank lines.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	for _, block := range strings.Split(normalized, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphs = append(paragraphs, strings.Join(strings.Fields(block), " "))
	}
	return paragraphs
}

func newEngine(name string) (tts.Engine, error) {
	switch name {
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown synthesis engine %q (supported: mock)", name)
	}
}

// documentID derives a stable identity from the document content, so
// cached alignments survive across runs of the same text.
func documentID(content []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, content).String()
}

func execute(_ *cobra.Command, args []string) error {
	raw, origin, err := readSource(args)
	if err != nil {
		return err
	}
	paragraphs := splitParagraphs(string(raw))
	if len(paragraphs) == 0 {
		return errors.New("source contains no text")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg.Engine)
	if err != nil {
		return err
	}

	var aligner *align.Service
	var disk *align.DiskCache
	if cfg.Align {
		aligner, err = align.NewService(nil, align.DefaultCacheEntries)
		if err != nil {
			return err
		}
		disk, err = align.NewDiskCache(cfg.CacheDir)
		if err != nil {
			log.Warn("alignment cache unavailable, continuing without", "err", err)
			disk = nil
		}
	}

	doc := tts.SliceDocument(paragraphs)
	q := pipeline.New(engine, doc, aligner, disk, pipeline.Config{
		MaxLookahead:   cfg.Lookahead,
		MaxParagraphs:  cfg.MaxParagraphs,
		MaxBufferBytes: cfg.MaxBufferBytes,
		Speed:          cfg.Speed,
		DocumentID:     documentID(raw),
	})
	defer q.Stop()

	log.Debug("speaking", "source", origin, "paragraphs", len(paragraphs), "engine", engine.Name())
	return speak(q, doc, cfg)
}

// speak drains the pipeline in document order, writing audio and
// timing output and optionally playing through the sound device.
func speak(q *pipeline.ReadyQueue, doc tts.SliceDocument, cfg config.Config) error {
	var player *audio.Player
	var scheduler *highlight.Scheduler
	if play {
		var err error
		player, err = audio.NewPlayer()
		if err != nil {
			return fmt.Errorf("unable to open audio device: %w", err)
		}
		defer player.Stop()
		scheduler = highlight.NewScheduler(cfg.HighlightRate)
		defer scheduler.Stop()
	}

	splitter := sentence.New()
	var pcm []byte
	var records []sentenceRecord

	q.StartFrom(fromParagraph, 0)
	for p := fromParagraph; p < doc.ParagraphCount(); p++ {
		text, _ := doc.Paragraph(p)
		for s := range splitter.Split(text) {
			rs, err := q.WaitAndTake(p, s)
			if errors.Is(err, tts.ErrSentenceSkipped) {
				log.Warn("sentence skipped", "paragraph", p, "sentence", s)
				continue
			}
			if err != nil {
				return err
			}

			records = append(records, sentenceRecord{
				Paragraph:      p,
				Sentence:       s,
				Text:           rs.Text,
				SentenceOffset: rs.SentenceOffset,
				AudioStart:     audio.Seconds(len(pcm)),
				Alignment:      rs.Alignment,
			})
			pcm = append(pcm, rs.CombinedAudio()...)

			if player != nil {
				playSentence(player, scheduler, rs)
			}
		}
	}

	if outPath != "" {
		if err := audio.WriteWAV(outPath, pcm); err != nil {
			return err
		}
		fmt.Println("Wrote audio to:", outPath)
	}
	if timingPath != "" {
		if err := writeTimings(timingPath, records); err != nil {
			return err
		}
		fmt.Println("Wrote word timings to:", timingPath)
	}
	log.Debug("pipeline drained", "stats", q.Stats())
	return nil
}

func playSentence(player *audio.Player, scheduler *highlight.Scheduler, rs *tts.ReadySentence) {
	if rs.Alignment != nil {
		words := rs.Alignment.Words
		scheduler.OnWordChange(func(i int) {
			if i >= 0 && i < len(words) {
				fmt.Printf("\r%-40s", words[i].Text)
			}
		})
		scheduler.Start(rs.Alignment, player)
		defer scheduler.Stop()
	}
	for i, chunk := range rs.Chunks {
		err := player.Enqueue(audio.SinkBuffer{Key: rs.Key, Data: chunk, Final: i == len(rs.Chunks)-1})
		if err != nil {
			log.Warn("playback failed", "key", rs.Key, "err", err)
			return
		}
	}
	player.Wait(rs.AudioDuration() * 2)
	fmt.Println()
}

func writeTimings(path string, records []sentenceRecord) error {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode timings: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("unable to write timings: %w", err)
	}
	return nil
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
	rootCmd.Flags().StringVarP(&engineName, "engine", "e", "", "synthesis engine")
	rootCmd.Flags().Float64VarP(&speed, "speed", "r", 0, "speech speed multiplier (0.1 to 3.0)")
	rootCmd.Flags().BoolVar(&noAlign, "no-align", false, "skip word-level timing computation")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "write synthesized audio to a WAV file")
	rootCmd.Flags().StringVar(&timingPath, "timing", "", "write word timings to a JSON file")
	rootCmd.Flags().BoolVarP(&play, "play", "p", false, "play audio with live word highlighting")
	rootCmd.Flags().IntVar(&fromParagraph, "from", 0, "start from this paragraph index")

	_ = viper.BindPFlag("engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))

	viper.SetDefault("engine", "mock")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("align", true)
	viper.SetDefault("pipeline.lookahead", pipeline.DefaultMaxLookahead)
	viper.SetDefault("pipeline.max_paragraphs", pipeline.DefaultMaxParagraphs)
	viper.SetDefault("pipeline.max_buffer_bytes", pipeline.DefaultMaxBufferBytes)
	viper.SetDefault("highlight.rate", highlight.DefaultUpdateRate)

	rootCmd.AddCommand(configCmd, cacheCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "readalong")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readalong")}, dirs...)
	}

	if c := os.Getenv("READALONG_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readalong")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("readalong")
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
		configFile = filepath.Join(dirs[0], "readalong.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
