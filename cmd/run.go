package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/analyzer"
	"github.com/vivacli/viva/internal/ingest"
	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/llm/gemini"
	"github.com/vivacli/viva/internal/logger"
	"github.com/vivacli/viva/internal/planner"
	"github.com/vivacli/viva/internal/rag"
	"github.com/vivacli/viva/internal/rag/pgindex"
	"github.com/vivacli/viva/internal/report"
	"github.com/vivacli/viva/internal/secrets"
	"github.com/vivacli/viva/internal/storage/memory"
	"github.com/vivacli/viva/internal/storage/sqlite"
)

const (
	PromptAnswer = "Answer now"
	PromptPause  = "Pause and exit"
	PromptResume = "Resume the interview"
	PromptExit   = "Exit"
)

var errExit = errors.New("exit requested")

var turnPrompt = promptui.Select{
	Label: "Next move?",
	Items: []string{PromptAnswer, PromptPause},
}

var pausedPrompt = promptui.Select{
	Label: "This session is paused",
	Items: []string{PromptResume, PromptExit},
}

var answerPrompt = promptui.Prompt{
	Label: "Your answer",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive mock interview",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("resume", "r", "", "path to the candidate resume (txt, md or pdf)")
	runCmd.Flags().String("job", "", "path to the job description (txt, md or pdf)")
	runCmd.Flags().StringP("session", "s", "", "continue an existing session by id instead of starting a new one")
	runCmd.Flags().String("owner", "", "candidate name recorded on the session")
	runCmd.Flags().IntP("max-questions", "n", 0, "number of questions to plan")
	runCmd.Flags().String("export", "", "directory to write the final report file to")

	viper.BindPFlag("interview.max-questions", runCmd.Flags().Lookup("max-questions"))
	viper.BindPFlag("export.dir", runCmd.Flags().Lookup("export"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	// A local .env file may carry GEMINI_API_KEY during development.
	_ = godotenv.Load()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting viva", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	store, closeStore, err := openStore(config)
	if err != nil {
		logger.Fatal("opening the session store", zap.Error(err))
	}
	defer closeStore()

	eng, err := buildEngine(ctx, config, store, logger)
	if err != nil {
		logger.Fatal(
			"building the interview engine",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY, GEMINI_API_KEY_FILE or the ai.gemini section in the configuration file"),
		)
	}

	sessionID := cmd.Flag("session").Value.String()
	if sessionID == "" {
		sessionID, err = startSession(ctx, cmd, config, eng, logger)
		if err != nil {
			logger.Fatal("starting the session", zap.Error(err))
		}
	}

	if err := interviewLoop(ctx, eng, sessionID, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func startSession(ctx context.Context, cmd *cobra.Command, config *Config, eng *interview.Engine, logger *zap.Logger) (string, error) {
	docs, err := loadDocuments(cmd)
	if err != nil {
		return "", err
	}

	owner := cmd.Flag("owner").Value.String()

	id, err := eng.StartSession(ctx, owner, docs, sessionSettings(config))
	if id == "" {
		return "", err
	}
	if err != nil {
		// The session exists and holds its own failure state; the loop
		// below surfaces it.
		logger.Warn("session advanced with errors", zap.Error(err))
	}

	logger.Info("session started", zap.String("session_id", id))
	return id, nil
}

func loadDocuments(cmd *cobra.Command) ([]rag.Document, error) {
	resumePath := cmd.Flag("resume").Value.String()
	jobPath := cmd.Flag("job").Value.String()

	if resumePath == "" || jobPath == "" {
		return nil, errors.New("both --resume and --job are required to start a session")
	}

	resume, err := ingest.Read(resumePath, rag.KindResume)
	if err != nil {
		return nil, fmt.Errorf("reading resume: %w", err)
	}

	job, err := ingest.Read(jobPath, rag.KindJobDescription)
	if err != nil {
		return nil, fmt.Errorf("reading job description: %w", err)
	}

	return []rag.Document{resume, job}, nil
}

func sessionSettings(config *Config) interview.Settings {
	var settings interview.Settings

	if cfg := config.Interview; cfg != nil {
		settings.MaxQuestions = cfg.MaxQuestions
		settings.ChunkSize = cfg.ChunkSize
		settings.ChunkOverlap = cfg.ChunkOverlap
		settings.RagK = cfg.RagK
		settings.FollowUpThreshold = cfg.FollowUpThreshold
		settings.EarlyExitAverage = cfg.EarlyExitAverage
		settings.EarlyExitMinTurns = cfg.EarlyExitMinTurns
		settings.PlanningTimeout = cfg.PlanningTimeout
		settings.ScoringTimeout = cfg.ScoringTimeout
		settings.ReportTimeout = cfg.ReportTimeout
	}

	if ai := config.AI; ai != nil && ai.Gemini != nil {
		settings.ModelName = ai.Gemini.Model
		settings.Temperature = ai.Gemini.Temperature
		settings.MaxRetries = ai.Gemini.MaxRetries
	}

	return settings
}

// interviewLoop drives one session until it finishes, pauses or fails. The
// engine keeps sessions usable when a write fails, so persistence errors are
// reported and the loop continues.
func interviewLoop(ctx context.Context, eng *interview.Engine, sessionID string, logger *zap.Logger) error {
	for {
		sess, err := eng.Settle(ctx, sessionID)
		if err != nil && sess == nil {
			return fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		if err != nil && errors.Is(err, interview.ErrPersistence) {
			logger.Warn("session write deferred, continuing in memory", zap.Error(err))
			err = nil
		}

		switch sess.Status {
		case interview.StateDone:
			return deliverReport(ctx, eng, sess, logger)
		case interview.StateFailed:
			return fmt.Errorf("session %s failed: %s", sess.ID, sess.LastError)
		case interview.StatePaused:
			if err := promptPaused(ctx, eng, sess.ID); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				return err
			}
		case interview.StateAwaitingAnswer:
			if err := promptTurn(ctx, eng, sess, logger); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				return err
			}
		default:
			if err != nil {
				return err
			}
			return fmt.Errorf("session %s is %s and cannot continue interactively", sess.ID, sess.Status)
		}
	}
}

func promptTurn(ctx context.Context, eng *interview.Engine, sess *interview.Session, logger *zap.Logger) error {
	question := sess.NextQuestion()
	if question == nil {
		return fmt.Errorf("session %s awaits an answer but has no pending question", sess.ID)
	}

	fmt.Printf("\nQuestion %d of %d [%s, difficulty %d]\n%s\n\n",
		sess.CurrentIndex+1, len(sess.Plan), question.TopicTag, question.Difficulty, question.Text)

	_, action, err := turnPrompt.Run()
	if err != nil {
		return err
	}

	if action == PromptPause {
		if err := eng.Pause(ctx, sess.ID); err != nil {
			return fmt.Errorf("pausing session %s: %w", sess.ID, err)
		}
		fmt.Printf("\nSession paused. Pick it up later with: %s run --session %s\n", app, sess.ID)
		return errExit
	}

	answer, err := answerPrompt.Run()
	if err != nil {
		return err
	}

	turn, err := eng.SubmitAnswer(ctx, sess.ID, answer)
	if err != nil {
		if !errors.Is(err, interview.ErrPersistence) {
			return fmt.Errorf("scoring the answer: %w", err)
		}
		logger.Warn("session write deferred, continuing in memory", zap.Error(err))
	}

	// A deferred write can hand back the answer before it is scored; the
	// next loop iteration settles and scores it.
	if turn.QuestionID == "" {
		fmt.Println("\nAnswer recorded, scoring will finish on the next step.")
		return nil
	}

	fmt.Printf("\nScore: %.0f/100\n%s\n", turn.Score, turn.FeedbackText)
	return nil
}

func promptPaused(ctx context.Context, eng *interview.Engine, sessionID string) error {
	_, action, err := pausedPrompt.Run()
	if err != nil {
		return err
	}

	if action == PromptExit {
		return errExit
	}

	if _, err := eng.Resume(ctx, sessionID); err != nil && !errors.Is(err, interview.ErrPersistence) {
		return fmt.Errorf("resuming session %s: %w", sessionID, err)
	}
	return nil
}

func deliverReport(ctx context.Context, eng *interview.Engine, sess *interview.Session, logger *zap.Logger) error {
	rep, err := eng.Report(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("fetching the report: %w", err)
	}

	fmt.Printf("\n%s\n", report.Render(rep, sess))

	dir := viper.GetString("export.dir")
	if dir == "" {
		return nil
	}

	path, err := report.Export(dir, rep, sess)
	if err != nil {
		return fmt.Errorf("exporting the report: %w", err)
	}

	logger.Info("report exported", zap.String("path", path))
	return nil
}

func buildEngine(ctx context.Context, config *Config, store interview.SessionStore, logger *zap.Logger) (*interview.Engine, error) {
	client, err := newAIClient(ctx, config.AI, logger)
	if err != nil {
		return nil, err
	}

	maxLogLength := 0
	if config.AI != nil && config.AI.Gemini != nil {
		maxLogLength = config.AI.Gemini.MaxLogLength
	}

	return interview.NewEngine(interview.EngineDeps{
		Sessions:     store,
		Planner:      planner.New(client, logger, maxLogLength),
		Analyzer:     analyzer.New(client, logger, maxLogLength),
		Reporter:     report.New(client, logger, maxLogLength),
		Embedder:     client,
		IndexFactory: vectorIndexFactory(config.Storage, logger),
		Logger:       logger,
	}), nil
}

func newAIClient(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*gemini.Client, error) {
	provider := "gemini"
	var geminiCfg *GeminiConfig
	if cfg != nil {
		if p := strings.TrimSpace(strings.ToLower(cfg.Provider)); p != "" {
			provider = p
		}
		geminiCfg = cfg.Gemini
	}
	if provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", provider)
	}
	if geminiCfg == nil {
		geminiCfg = &GeminiConfig{}
	}

	apiKey, err := resolveAPIKey(geminiCfg)
	if err != nil {
		return nil, err
	}

	return gemini.New(ctx, gemini.Config{
		APIKey:     apiKey,
		Model:      geminiCfg.Model,
		EmbedModel: geminiCfg.EmbedModel,
		MaxRetries: geminiCfg.MaxRetries,
	}, logger)
}

func resolveAPIKey(cfg *GeminiConfig) (string, error) {
	apiKeyFile := strings.TrimSpace(cfg.APIKeyFile)
	if apiKeyFile == "" {
		apiKeyFile = strings.TrimSpace(viper.GetString("ai.gemini.api-key-file"))
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(viper.GetString("ai.gemini.api-key"))
	}

	return secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: apiKey,
		File:  apiKeyFile,
	})
}

func openStore(config *Config) (interview.SessionStore, func(), error) {
	backend := "sqlite"
	path := app + ".db"
	if cfg := config.Storage; cfg != nil {
		if cfg.Backend != "" {
			backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
		}
		if cfg.Path != "" {
			path = cfg.Path
		}
	}

	switch backend {
	case "sqlite":
		store, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

func vectorIndexFactory(cfg *StorageConfig, logger *zap.Logger) interview.IndexFactory {
	if cfg == nil || cfg.Vector == nil || cfg.Vector.URL == "" {
		return nil
	}

	vector := cfg.Vector
	return func(ctx context.Context, fingerprint string) (rag.Index, error) {
		index, err := pgindex.New(ctx, pgindex.Config{
			URL:         vector.URL,
			Fingerprint: fingerprint,
			Dimension:   vector.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return index, nil
	}
}
