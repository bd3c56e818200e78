package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	LLM       LLMConfig
	Assistant AssistantConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type AssistantConfig struct {
	HistoryTurns       int
	ContextPrefixLen   int
	RetrieveTopK       int
	PoorScoreThreshold float64
	StatsWindow        int
	MaxInsightsPerEval int
	EvalMaxAttempts    int
	EvalBackoffBaseSec int
	CorpusFallbackDir  string
	AnswerCacheTTLSec  int
	FormattingRules    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/portfolio-assistant")

	viper.SetEnvPrefix("PORTFOLIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 5242880)

	viper.SetDefault("sqlite.path", "./data/assistant.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "portfolio_passages")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.4)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("assistant.historyTurns", 10)
	viper.SetDefault("assistant.contextPrefixLen", 2000)
	viper.SetDefault("assistant.retrieveTopK", 8)
	viper.SetDefault("assistant.poorScoreThreshold", 0.7)
	viper.SetDefault("assistant.statsWindow", 20)
	viper.SetDefault("assistant.maxInsightsPerEval", 3)
	viper.SetDefault("assistant.evalMaxAttempts", 3)
	viper.SetDefault("assistant.evalBackoffBaseSec", 2)
	viper.SetDefault("assistant.corpusFallbackDir", "./data/corpus")
	viper.SetDefault("assistant.answerCacheTTLSec", 0)
	viper.SetDefault("assistant.formattingRules", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
