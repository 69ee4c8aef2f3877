package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "viva"
)

type Config struct {
	Interview *InterviewConfig `mapstructure:"interview"`
	AI        *AIConfig        `mapstructure:"ai"`
	Storage   *StorageConfig   `mapstructure:"storage"`
	Export    *ExportConfig    `mapstructure:"export"`
}

// InterviewConfig seeds per-session settings. Zero values fall back to the
// engine defaults.
type InterviewConfig struct {
	MaxQuestions      int     `mapstructure:"max-questions"`
	ChunkSize         int     `mapstructure:"chunk-size"`
	ChunkOverlap      int     `mapstructure:"chunk-overlap"`
	RagK              int     `mapstructure:"rag-k"`
	FollowUpThreshold float64 `mapstructure:"follow-up-threshold"`
	EarlyExitAverage  float64 `mapstructure:"early-exit-average"`
	EarlyExitMinTurns int     `mapstructure:"early-exit-min-turns"`

	PlanningTimeout time.Duration `mapstructure:"planning-timeout"`
	ScoringTimeout  time.Duration `mapstructure:"scoring-timeout"`
	ReportTimeout   time.Duration `mapstructure:"report-timeout"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string  `mapstructure:"api-key"`
	APIKeyFile   string  `mapstructure:"api-key-file"`
	Model        string  `mapstructure:"model"`
	EmbedModel   string  `mapstructure:"embed-model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxRetries   int     `mapstructure:"max-retries"`
	MaxLogLength int     `mapstructure:"max-log-length"`
}

type StorageConfig struct {
	// Backend selects the session store: sqlite (default) or memory.
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	Vector  *VectorConfig `mapstructure:"vector"`
}

// VectorConfig enables the shared pgvector index. Without it every process
// keeps its retrieval index in memory.
type VectorConfig struct {
	URL       string `mapstructure:"url"`
	Dimension int    `mapstructure:"dimension"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "viva runs adaptive mock interviews grounded in a resume and a job description",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is viva.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		// An explicitly named config file must parse.
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal(err)
		}
		return
	}

	viper.AddConfigPath(".")
	viper.SetConfigName(app)
	viper.SetConfigType("yaml")

	// The default config file is optional. Flags and environment variables
	// can carry a full configuration.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config == nil {
		config = &Config{}
	}

	return config, nil
}
