package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-scanner/internal/extract"
	"github.com/zombor/receipt-scanner/internal/normalize"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const envPrefix = "RECEIPT_SCANNER"

// config holds the flags shared by every command
type config struct {
	logLevel    *string
	logFormat   *string
	recognizer  *string
	languages   *string
	psm         *int
	oem         *int
	tesseract   *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	timeout     *time.Duration
	tieBreak    *string
	store       *string
	dbPath      *string
	storagePath *string
	showVersion *bool
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	root, cfg := newRoot()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Parse(os.Args[1:], ff.WithEnvVarPrefix(envPrefix)); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected(root)))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*cfg.logLevel, *cfg.logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected(root)))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// newRoot builds the command tree; every flag can also be set from the
// environment with the RECEIPT_SCANNER_ prefix
func newRoot() (*ff.Command, *config) {
	rootFlags := ff.NewFlagSet("receipt-scanner")
	cfg := &config{
		logLevel:    rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:   rootFlags.StringLong("log-format", "text", "Log format: 'text' or 'json'"),
		recognizer:  rootFlags.StringLong("recognizer", "tesseract", "Recognizer: 'tesseract', 'gemini' or 'ollama'"),
		languages:   rootFlags.StringLong("languages", "eng+fin", "Recognition languages, e.g. eng+fin"),
		psm:         rootFlags.IntLong("psm", scanning.PageSegSingleBlock, "Tesseract page segmentation mode"),
		oem:         rootFlags.IntLong("oem", scanning.EngineDefault, "Tesseract engine mode"),
		tesseract:   rootFlags.StringLong("tesseract-bin", "tesseract", "Tesseract binary used for orientation detection"),
		geminiKey:   rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: rootFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: rootFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		timeout:     rootFlags.DurationLong("recognize-timeout", 2*time.Minute, "Time limit for one recognizer pass"),
		tieBreak:    rootFlags.StringLong("tie-break", "lexical", "How competing amounts are compared: 'lexical' or 'numeric'"),
		store:       rootFlags.StringLong("store", "bolt", "Receipt store: 'bolt' or 'sqlite'"),
		dbPath:      rootFlags.StringLong("db", "receipts.db", "Database file path"),
		storagePath: rootFlags.StringLong("storage", "./receipts", "Storage directory path"),
	}
	cfg.showVersion = rootFlags.BoolLong("version", "Show version information")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	port := serveFlags.IntLong("port", 8080, "HTTP server port")
	authUser := serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
	authPass := serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-scanner serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, cfg, *port, receipt.BasicAuth{Username: *authUser, Password: *authPass})
		},
	}

	scanFlags := ff.NewFlagSet("scan").SetParent(rootFlags)
	save := scanFlags.BoolLong("save", "Save every scanned receipt to the store")
	scanCmd := &ff.Command{
		Name:      "scan",
		Usage:     "receipt-scanner scan [FLAGS] FILE...",
		ShortHelp: "read receipt fields from image or PDF files",
		Flags:     scanFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runScan(ctx, cfg, *save, args)
		},
	}

	listFlags := ff.NewFlagSet("list").SetParent(rootFlags)
	page := listFlags.IntLong("page", 0, "Page to print, starting at 0")
	listCmd := &ff.Command{
		Name:      "list",
		Usage:     "receipt-scanner list [FLAGS]",
		ShortHelp: "print one page of saved receipts",
		Flags:     listFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runList(cfg, *page)
		},
	}

	normalizeFlags := ff.NewFlagSet("normalize").SetParent(rootFlags)
	normalizeCmd := &ff.Command{
		Name:      "normalize",
		Usage:     "receipt-scanner normalize IN OUT",
		ShortHelp: "write the binarized, deskewed image the recognizer sees",
		Flags:     normalizeFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runNormalize(args)
		},
	}

	root := &ff.Command{
		Name:        "receipt-scanner",
		Usage:       "receipt-scanner [FLAGS] <SUBCOMMAND>",
		ShortHelp:   "scan receipts and keep their date, total and VAT",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, scanCmd, listCmd, normalizeCmd},
	}
	return root, cfg
}

// selected is the command the arguments picked, or root when parsing
// stopped before one was chosen
func selected(root *ff.Command) *ff.Command {
	if cmd := root.GetSelected(); cmd != nil {
		return cmd
	}
	return root
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}

func openDB(cfg *config) (receipt.DB, error) {
	slog.Info("Initializing database...", "store", *cfg.store, "path", *cfg.dbPath)
	switch *cfg.store {
	case "bolt":
		return receipt.NewBoltDB(*cfg.dbPath)
	case "sqlite":
		return receipt.NewSQLiteDB(*cfg.dbPath)
	default:
		return nil, fmt.Errorf("invalid store %q (want bolt or sqlite)", *cfg.store)
	}
}

func newRecognizer(ctx context.Context, cfg *config) (scanning.Recognizer, error) {
	switch *cfg.recognizer {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "languages", *cfg.languages)
		return scanning.NewTesseract(*cfg.tesseract), nil
	case "gemini":
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini recognizer...", "model", *cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, *cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid recognizer %q (want tesseract, gemini or ollama)", *cfg.recognizer)
	}
}

func newPipeline(ctx context.Context, cfg *config) (*scanning.Pipeline, error) {
	tieBreak, err := extract.ParseTieBreak(*cfg.tieBreak)
	if err != nil {
		return nil, err
	}

	recognizer, err := newRecognizer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recCfg := scanning.RecognizerConfig{
		Languages:   scanning.ParseLanguages(*cfg.languages),
		PageSegMode: *cfg.psm,
		EngineMode:  *cfg.oem,
	}
	return scanning.NewPipeline(recognizer, recCfg, *cfg.timeout, extract.WithTieBreak(tieBreak)), nil
}

// newService opens everything a Service needs. The returned func closes it
func newService(ctx context.Context, cfg *config) (*receipt.Service, func(), error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}

	pipeline, err := newPipeline(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing recognizer: %w", err)
	}

	slog.Info("Initializing storage...", "path", *cfg.storagePath)
	store, err := receipt.NewLocalStorage(*cfg.storagePath)
	if err != nil {
		pipeline.Close()
		db.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	closeAll := func() {
		if err := pipeline.Close(); err != nil {
			slog.Warn("Failed to close recognizer", "error", err)
		}
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
	return receipt.NewService(db, pipeline, store), closeAll, nil
}

func runServe(ctx context.Context, cfg *config, port int, auth receipt.BasicAuth) error {
	service, closeAll, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	server := receipt.NewServer(service, auth)
	if auth.Username != "" || auth.Password != "" {
		slog.Info("Basic auth enabled", "user", auth.Username)
	}

	return server.Start(ctx, fmt.Sprintf(":%d", port))
}

// fileContentType sniffs the type of a local file, trusting the extension
// only when the data says nothing
func fileContentType(path string, data []byte) string {
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			return byExt
		}
	}
	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return detected.String()
	}
	return mediaType
}

func runScan(ctx context.Context, cfg *config, save bool, files []string) error {
	if len(files) == 0 {
		return errors.New("scan needs at least one file")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if save {
		service, closeAll, err := newService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeAll()

		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			saved, err := service.ProcessReceipt(ctx, filepath.Base(path), data, fileContentType(path, data))
			if err != nil {
				return fmt.Errorf("saving %s: %w", path, err)
			}
			if err := enc.Encode(saved); err != nil {
				return err
			}
		}
		return nil
	}

	pipeline, err := newPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing recognizer: %w", err)
	}
	defer pipeline.Close()

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		result, err := pipeline.ScanReceipt(ctx, data, fileContentType(path, data))
		if err != nil {
			return fmt.Errorf("scanning %s: %w", path, err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

func runList(cfg *config, page int) error {
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	total, err := db.CountReceipts()
	if err != nil {
		return err
	}
	receipts, err := db.ListReceipts(page)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(receipt.Page{
		Number:   page,
		PageSize: receipt.PageSize,
		Total:    total,
		Receipts: receipts,
	})
}

func runNormalize(args []string) error {
	if len(args) != 2 {
		return errors.New("normalize needs an input and an output file")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	img, err := scanning.DecodeImage(data, fileContentType(args[0], data))
	if err != nil {
		return err
	}

	start := time.Now()
	out := normalize.Normalize(img)
	slog.Info("Normalized receipt image",
		"input", img.Bounds().Size(),
		"output", out.Bounds().Size(),
		"duration", time.Since(start),
	)

	if err := imaging.Save(out, args[1]); err != nil {
		return fmt.Errorf("writing %s: %w", args[1], err)
	}
	return nil
}
