package main

import (
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/provider/tesseract"
	"github.com/zombor/regionlens/internal/selection"
)

// options holds the parsed command line and environment
type options struct {
	port           int
	dbPath         string
	authUser       string
	authPass       string
	captureSource  string
	captureRate    float64
	emitDelay      time.Duration
	requestTimeout time.Duration
	ocrProvider    string
	ocrKey         string
	aiProvider     string
	aiKey          string
	aiModel        string
	logLevel       string
	logFormat      string
	showVersion    bool
}

// parseFlags reads flags from args and REGIONLENS_* environment variables.
// The flag set is returned so callers can print help on error.
func parseFlags(args []string) (options, *ff.FlagSet, error) {
	fs := ff.NewFlagSet("regionlens")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "", "Database file path (defaults to the XDG data directory)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		captureSource  = fs.StringLong("capture-source", "upload", "Viewport capture source: 'upload' or 'screen'")
		captureRate    = fs.Float64Long("capture-rate", 2, "Maximum viewport captures per second (0 disables the limit)")
		emitDelay      = fs.DurationLong("emit-delay", selection.DefaultEmitDelay, "Delay between a completed selection and its capture")
		requestTimeout = fs.DurationLong("request-timeout", 0, "Timeout for OCR and AI requests (0 waits indefinitely)")
		ocrProvider    = fs.StringLong("ocr-provider", provider.NameOCRSpace, "OCR service used when none is configured: 'ocrspace' or 'tesseract'")
		ocrKey         = fs.StringLong("ocr-key", "", "OCR service API key")
		aiProvider     = fs.StringLong("ai-provider", provider.NameOpenAI, "AI service used when none is configured: 'openai', 'gemini' or 'ollama'")
		aiKey          = fs.StringLong("ai-key", "", "AI service API key")
		aiModel        = fs.StringLong("ai-model", "", "AI model name (provider default when empty)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat      = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("REGIONLENS"),
	); err != nil {
		return options{}, fs, err
	}

	return options{
		port:           *port,
		dbPath:         *dbPath,
		authUser:       *authUser,
		authPass:       *authPass,
		captureSource:  *captureSource,
		captureRate:    *captureRate,
		emitDelay:      *emitDelay,
		requestTimeout: *requestTimeout,
		ocrProvider:    *ocrProvider,
		ocrKey:         *ocrKey,
		aiProvider:     *aiProvider,
		aiKey:          *aiKey,
		aiModel:        *aiModel,
		logLevel:       *logLevel,
		logFormat:      *logFormat,
		showVersion:    *showVersion,
	}, fs, nil
}

// newAdapter registers local OCR in every build. Without the tesseract
// build tag the engine explains how to enable it.
func newAdapter() *provider.Adapter {
	return provider.NewAdapter(provider.WithLocalOCR(tesseract.New))
}
