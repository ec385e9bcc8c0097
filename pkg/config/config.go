package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// HTTPサーバー設定
	Server ServerConfig

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// 質問応答パイプライン設定
	Pipeline PipelineConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// 検索・回答生成設定
	Retrieval RetrievalConfig

	// ベクトルインデックスキャッシュ設定
	VectorCache VectorCacheConfig

	// 質問応答キャッシュ設定
	QACache QACacheConfig

	// Database設定（QACache.Backend=postgres の場合に使用）
	Database DatabaseConfig

	// 文書取得設定
	Fetch FetchConfig

	// ログ設定
	Log LogConfig
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr            string
	APIToken        string // 空の場合は Bearer 形式のみ検証する
	ResponseFormat  string // "detailed" or "plain"
	ShutdownTimeout time.Duration
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	Timeout            time.Duration
	RequestsPerSecond  float64 // 0 の場合は無制限
	Burst              int
}

// PipelineConfig は質問応答パイプライン設定
type PipelineConfig struct {
	Mode                string // "auto", "online", "offline"
	QuestionConcurrency int
}

// ChunkingConfig はチャンク分割設定
type ChunkingConfig struct {
	Strategy             string // "recursive" or "semantic"
	Size                 int
	Overlap              int
	LengthUnit           string // "runes" or "tokens"
	BreakpointPercentile float64
}

// RetrievalConfig は検索・回答生成設定
type RetrievalConfig struct {
	TopK             int
	QueryCount       int
	MaxContextTokens int
}

// VectorCacheConfig はベクトルインデックスキャッシュ設定
type VectorCacheConfig struct {
	KeyMode      string // "reference" or "content"
	TTL          time.Duration
	BuildTimeout time.Duration
}

// QACacheConfig は質問応答キャッシュ設定
type QACacheConfig struct {
	Backend    string // "sqlite", "postgres", "memory", "none"
	SQLitePath string
	PageSize   int
	Normalize  bool
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// FetchConfig は文書取得設定
type FetchConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	AllowLocal bool   // file:// とローカルパスを受け付けるか
	LocalRoot  string // 指定時はこのディレクトリ配下のみ受け付ける
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

const (
	ModeAuto    = "auto"
	ModeOnline  = "online"
	ModeOffline = "offline"

	ResponseFormatDetailed = "detailed"
	ResponseFormatPlain    = "plain"
)

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8000"),
			APIToken:        getEnv("API_TOKEN", ""),
			ResponseFormat:  getEnv("RESPONSE_FORMAT", ResponseFormatDetailed),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"), // デフォルトはgpt-4o-mini
			Timeout:            getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			RequestsPerSecond:  getEnvAsFloat("OPENAI_REQUESTS_PER_SECOND", 0),
			Burst:              getEnvAsInt("OPENAI_BURST", 1),
		},
		Pipeline: PipelineConfig{
			Mode:                strings.ToLower(getEnv("QA_MODE", ModeAuto)),
			QuestionConcurrency: getEnvAsInt("QUESTION_CONCURRENCY", 4),
		},
		Chunking: ChunkingConfig{
			Strategy:             strings.ToLower(getEnv("CHUNK_STRATEGY", "recursive")),
			Size:                 getEnvAsInt("CHUNK_SIZE", 1000),
			Overlap:              getEnvAsInt("CHUNK_OVERLAP", 200),
			LengthUnit:           strings.ToLower(getEnv("CHUNK_LENGTH_UNIT", "runes")),
			BreakpointPercentile: getEnvAsFloat("CHUNK_BREAKPOINT_PERCENTILE", 95),
		},
		Retrieval: RetrievalConfig{
			TopK:             getEnvAsInt("RETRIEVAL_TOP_K", 5),
			QueryCount:       getEnvAsInt("RETRIEVAL_QUERY_COUNT", 3),
			MaxContextTokens: getEnvAsInt("ANSWER_MAX_CONTEXT_TOKENS", 6000),
		},
		VectorCache: VectorCacheConfig{
			KeyMode:      strings.ToLower(getEnv("VECTOR_CACHE_KEY_MODE", "reference")),
			TTL:          getEnvAsDuration("VECTOR_CACHE_TTL", 0),
			BuildTimeout: getEnvAsDuration("VECTOR_CACHE_BUILD_TIMEOUT", 5*time.Minute),
		},
		QACache: QACacheConfig{
			Backend:    strings.ToLower(getEnv("QA_CACHE_BACKEND", "sqlite")),
			SQLitePath: getEnv("QA_CACHE_SQLITE_PATH", "docqa.db"),
			PageSize:   getEnvAsInt("QA_CACHE_PAGE_SIZE", 100),
			Normalize:  getEnvAsBool("QA_CACHE_NORMALIZE", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docqa"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docqa"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Fetch: FetchConfig{
			Timeout:    getEnvAsDuration("FETCH_TIMEOUT", 60*time.Second),
			MaxBytes:   int64(getEnvAsInt("FETCH_MAX_BYTES", 50<<20)),
			AllowLocal: getEnvAsBool("FETCH_ALLOW_LOCAL", false),
			LocalRoot:  getEnv("FETCH_LOCAL_ROOT", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は列挙値と数値範囲を検証します
func (c *Config) Validate() error {
	var errs []error

	switch c.Pipeline.Mode {
	case ModeAuto, ModeOnline, ModeOffline:
	default:
		errs = append(errs, fmt.Errorf("QA_MODE must be one of auto, online, offline: %q", c.Pipeline.Mode))
	}
	if c.Pipeline.QuestionConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("QUESTION_CONCURRENCY must be positive: %d", c.Pipeline.QuestionConcurrency))
	}

	switch c.Server.ResponseFormat {
	case ResponseFormatDetailed, ResponseFormatPlain:
	default:
		errs = append(errs, fmt.Errorf("RESPONSE_FORMAT must be detailed or plain: %q", c.Server.ResponseFormat))
	}

	switch c.Chunking.Strategy {
	case "recursive", "semantic":
	default:
		errs = append(errs, fmt.Errorf("CHUNK_STRATEGY must be recursive or semantic: %q", c.Chunking.Strategy))
	}
	switch c.Chunking.LengthUnit {
	case "runes", "tokens":
	default:
		errs = append(errs, fmt.Errorf("CHUNK_LENGTH_UNIT must be runes or tokens: %q", c.Chunking.LengthUnit))
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE/CHUNK_OVERLAP out of range: size=%d overlap=%d", c.Chunking.Size, c.Chunking.Overlap))
	}

	switch c.VectorCache.KeyMode {
	case "reference", "content":
	default:
		errs = append(errs, fmt.Errorf("VECTOR_CACHE_KEY_MODE must be reference or content: %q", c.VectorCache.KeyMode))
	}

	switch c.QACache.Backend {
	case "sqlite", "postgres", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("QA_CACHE_BACKEND must be one of sqlite, postgres, memory, none: %q", c.QACache.Backend))
	}
	if c.QACache.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("QA_CACHE_PAGE_SIZE must be positive: %d", c.QACache.PageSize))
	}

	if c.Retrieval.TopK <= 0 || c.Retrieval.QueryCount < 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K/RETRIEVAL_QUERY_COUNT out of range: k=%d n=%d", c.Retrieval.TopK, c.Retrieval.QueryCount))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DSN はPostgres接続文字列を返します
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" 形式の環境変数を取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
