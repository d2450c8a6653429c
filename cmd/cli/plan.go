package cli

import (
	"encoding/json"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/log/sinks"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/profile"
	"github.com/chanaliuxing/dirtyapply/pkg/security"
)

type PlanCmd struct {
	Page        string  `help:"Page snapshot JSON or HTML file." required:""`
	Profile     string  `help:"The YAML applicant profile." default:"profile.yml"`
	AllowSubmit bool    `help:"Permit a submit step at the end of the plan."`
	Similarity  float64 `help:"Fuzzy key-matching threshold." default:"0.72"`
}

// Run detects fields and builds the plan without executing anything: the dry
// run used to inspect what a real run would do.
func (p *PlanCmd) Run() error {
	consoleSink := sinks.NewConsoleSink()

	logRouter := log.NewRouter()
	logRouter.AddSink(consoleSink)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	if err := godotenv.Load(); err != nil {
		cmdLogger.Warn().Err(err).Msg("No .env file found or error thrown while loading it. Relying on existing ENV")
	}

	prof, err := profile.Load(p.Profile)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Failed to load profile %s", p.Profile)
		return fmt.Errorf("loading profile %q: %w", p.Profile, err)
	}
	logRouter.Redactor = security.NewRedactor(prof.Secrets())

	doc, err := loadDocumentFile(p.Page)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Failed to load page file %s", p.Page)
		return err
	}

	fields := detect.Detect(doc)
	controls := detect.DetectControls(doc)
	cmdLogger.Info().Msgf("Detected %d fields and %d controls on %s", len(fields), len(controls), doc.Origin())
	if len(fields) == 0 {
		return fmt.Errorf("no fillable fields detected in %q", p.Page)
	}

	builder := plan.NewBuilder(cmdLogger)
	actionPlan, _, err := builder.Build(doc.Origin(), fields, controls, prof.Values, plan.Options{
		AllowSubmitStep:     p.AllowSubmit,
		SimilarityThreshold: p.Similarity,
	})
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to build plan")
		return err
	}

	out, err := json.MarshalIndent(actionPlan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
