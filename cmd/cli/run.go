package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/browser"
	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/engine"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/log/sinks"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/profile"
	"github.com/chanaliuxing/dirtyapply/pkg/safety"
	"github.com/chanaliuxing/dirtyapply/pkg/security"
	"github.com/chanaliuxing/dirtyapply/pkg/strategy"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

type RunCmd struct {
	Page           string        `help:"Page to run against: URL, snapshot JSON, or HTML file." required:""`
	Profile        string        `help:"The YAML applicant profile." default:"profile.yml"`
	Safety         string        `help:"The YAML safety configuration." default:"safety.yml"`
	Companion      string        `help:"Base URL of the companion service." default:""`
	CompanionToken string        `help:"Auth token for the companion service." env:"DIRTYAPPLY_COMPANION_TOKEN"`
	Redis          string        `help:"Redis URL for the shared quota store." env:"DIRTYAPPLY_REDIS_URL"`
	AuditDB        string        `help:"SQLite audit database path." default:".dirtyapply/audit.db"`
	AllowSubmit    bool          `help:"Permit a submit step at the end of the plan."`
	ConfirmTimeout time.Duration `help:"How long to wait for submit confirmation." default:"90s"`
	Confidence     float64       `help:"Optical recognition confidence threshold." default:"0.72"`
	Headless       bool          `help:"Run the browser headless." default:"true"`
}

func (r *RunCmd) Run() error {
	runID := uuid.New().String()

	consoleSink := sinks.NewConsoleSink()

	logsDir := ".dirtyapply/logs"
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs directory %q: %w", logsDir, err)
	}
	logFilePath := filepath.Join(logsDir, fmt.Sprintf("%s.json", runID))
	fileSink, err := sinks.NewFileSink(logFilePath)
	if err != nil {
		return fmt.Errorf("creating file log sink: %w", err)
	}

	logRouter := log.NewRouter()
	logRouter.AddSink(consoleSink)
	logRouter.AddSink(fileSink)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	cmdLogger.Info().Msgf("Starting application run with ID: %s", runID)
	cmdLogger.Info().Msgf("Logs will be saved to %q", logFilePath)

	defer func() {
		cmdLogger.Info().Msg("Shutting down logger...")
		if err := logRouter.Close(); err != nil {
			fmt.Printf("Error during log shutdown: %v", err)
		}
	}()

	if err := godotenv.Load(); err != nil {
		cmdLogger.Warn().Err(err).Msg("No .env file found or error thrown while loading it. Relying on existing ENV")
	}

	prof, err := profile.Load(r.Profile)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Failed to load profile %s", r.Profile)
		return fmt.Errorf("loading profile %q: %w", r.Profile, err)
	}
	cmdLogger.Info().Msgf("Loaded profile with %d values", len(prof.Values))

	// Attach the secrets redactor before anything sensitive can be logged.
	logRouter.Redactor = security.NewRedactor(prof.Secrets())

	cfg, err := safety.LoadConfigFromFile(r.Safety)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Invalid safety configuration %s, failing closed", r.Safety)
		return fmt.Errorf("loading safety config %q: %w", r.Safety, err)
	}

	quota, closeQuota, err := openQuotaStore(r.Redis, cmdLogger)
	if err != nil {
		return err
	}
	defer closeQuota()

	recorder, err := openRecorder(r.AuditDB)
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to open audit trail")
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			cmdLogger.Error().Err(err).Msg("Failed to close audit trail")
		}
	}()

	var comp strategy.Companion
	var screenshot strategy.ScreenshotFunc
	if r.Companion != "" {
		client, err := companion.NewClient(r.Companion, r.CompanionToken, cmdLogger)
		if err != nil {
			cmdLogger.Error().Err(err).Msg("Failed to configure companion client")
			return err
		}
		if _, err := client.Health(context.Background()); err != nil {
			cmdLogger.Error().Err(err).Msg("Companion service is not reachable")
			return err
		}
		comp = client
		screenshot, err = newScreenshotSaver(client, runID)
		if err != nil {
			cmdLogger.Error().Err(err).Msg("Failed to prepare screenshot directory")
			return err
		}
		cmdLogger.Info().Str("companion", r.Companion).Msg("Companion service connected")
	} else {
		cmdLogger.Warn().Msg("No companion service configured; privileged and optical strategies are unavailable")
	}

	target, harness, cleanup, err := openTarget(r.Page, r.Headless, cmdLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	confirmer := newConsoleConfirmer(r.ConfirmTimeout, cmdLogger)
	governor := safety.NewGovernor(cfg, quota, confirmer, recorder, cmdLogger)

	eng := &engine.Engine{
		Builder:  plan.NewBuilder(cmdLogger),
		Governor: governor,
		Executor: strategy.NewExecutor(),
		Recorder: recorder,
		Logger:   cmdLogger,
	}

	report, err := eng.Run(context.Background(), target, engine.RunOptions{
		AllowSubmit:         r.AllowSubmit,
		Values:              prof.Values,
		Companion:           comp,
		ConfidenceThreshold: r.Confidence,
		Harness:             harness,
		Screenshot:          screenshot,
	})
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Run failed")
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	fmt.Println(string(out))

	cmdLogger.Info().Msgf("Run completed in state %q. Logs can be found at %q", report.State, logFilePath)
	return nil
}

// openQuotaStore prefers the shared redis store so the daily limit holds
// across machines; without a redis URL it falls back to per-process memory.
func openQuotaStore(redisURL string, logger types.Logger) (safety.QuotaStore, func(), error) {
	if redisURL == "" {
		logger.Warn().Msg("No redis URL configured; daily quota is tracked per process only")
		return safety.NewMemoryQuotaStore(), func() {}, nil
	}
	store, err := safety.NewRedisQuotaStoreURL(redisURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect quota store")
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// newScreenshotSaver stores per-attempt screenshots under the run's shots
// directory and hands the file path back as the audit reference.
func newScreenshotSaver(client *companion.Client, runID string) (strategy.ScreenshotFunc, error) {
	shotsDir := filepath.Join(".dirtyapply", "shots", runID)
	if err := os.MkdirAll(shotsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating shots directory %q: %w", shotsDir, err)
	}
	return func(ctx context.Context, stepID string, mode plan.Mode) (string, error) {
		png, err := client.Screenshot(ctx)
		if err != nil {
			return "", err
		}
		ref := filepath.Join(shotsDir, fmt.Sprintf("%s-%s.png", stepID, mode))
		if err := os.WriteFile(ref, png, 0644); err != nil {
			return "", fmt.Errorf("writing screenshot %q: %w", ref, err)
		}
		return ref, nil
	}, nil
}

func openRecorder(dbPath string) (audit.Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return audit.NewSQLiteRecorder(dbPath)
}

// openTarget builds the execution target: a live browser session for URLs, an
// offline harness for snapshot or HTML files.
func openTarget(page string, headless bool, logger types.Logger) (strategy.Target, bool, func(), error) {
	if isFile(page) {
		doc, err := loadDocumentFile(page)
		if err != nil {
			logger.Error().Err(err).Msgf("Failed to load page file %s", page)
			return nil, false, nil, err
		}
		logger.Info().Str("page", page).Msg("Running against an offline page snapshot")
		return strategy.NewHarness(doc), true, func() {}, nil
	}

	session, err := browser.Launch(browser.LaunchOptions{Headless: headless}, logger)
	if err != nil {
		return nil, false, nil, err
	}
	if err := session.Goto(page); err != nil {
		_ = session.Close()
		return nil, false, nil, err
	}
	return session, false, func() { _ = session.Close() }, nil
}

func isFile(page string) bool {
	_, err := os.Stat(page)
	return err == nil
}
