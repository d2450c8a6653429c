package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/chanaliuxing/dirtyapply/pkg/browser"
	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/log/sinks"
	"github.com/chanaliuxing/dirtyapply/pkg/security"
)

type ServeCmd struct {
	Addr     string `help:"Loopback address to listen on." default:"127.0.0.1:8765"`
	Token    string `help:"Auth token clients must present." env:"DIRTYAPPLY_COMPANION_TOKEN"`
	OCRModel string `help:"Path to the ONNX text-recognition model." default:".dirtyapply/models/recognition.onnx"`
	Headless bool   `help:"Run the driver browser headless." default:"false"`
}

// Run starts the companion automation service.
func (s *ServeCmd) Run() error {
	consoleSink := sinks.NewConsoleSink()

	logRouter := log.NewRouter()
	logRouter.AddSink(consoleSink)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	defer func() {
		if err := logRouter.Close(); err != nil {
			fmt.Printf("Error during log shutdown: %v", err)
		}
	}()

	if err := godotenv.Load(); err != nil {
		cmdLogger.Warn().Err(err).Msg("No .env file found or error thrown while loading it. Relying on existing ENV")
	}

	if s.Token == "" {
		s.Token = os.Getenv("DIRTYAPPLY_COMPANION_TOKEN")
	}
	if len(s.Token) < companion.MinTokenLength {
		return fmt.Errorf("companion token must be at least %d characters; set --token or DIRTYAPPLY_COMPANION_TOKEN", companion.MinTokenLength)
	}
	logRouter.Redactor = security.NewRedactor([]string{s.Token})

	session, err := browser.Launch(browser.LaunchOptions{Headless: s.Headless}, cmdLogger)
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to start the automation driver")
		return err
	}
	defer func() { _ = session.Close() }()

	var recognizer companion.TextRecognizer
	if _, err := os.Stat(s.OCRModel); err == nil {
		ocr := companion.NewONNXRecognizer(s.OCRModel, cmdLogger)
		defer func() { _ = ocr.Close() }()
		recognizer = ocr
		cmdLogger.Info().Str("model", s.OCRModel).Msg("Text recognition enabled")
	} else {
		cmdLogger.Warn().Str("model", s.OCRModel).Msg("Recognition model not found; optical endpoints disabled")
	}

	server, err := companion.NewServer(s.Token, session, recognizer, cmdLogger)
	if err != nil {
		return err
	}
	cmdLogger.Info().Msgf("Companion token: %s", security.MaskToken(s.Token))
	return server.ListenAndServe(s.Addr)
}
