package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Chat    ChatConfig
	Whois   WhoisConfig
	Storage StorageConfig
	Blob    BlobConfig
	Log     LogConfig
}

// Load 从环境变量加载配置，CHAT_CONFIG_FILE 指向的 YAML 文件可覆盖聊天默认值。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chatCfg, err := loadChatConfig(ai.Model)
	if err != nil {
		return nil, err
	}

	whois, err := loadWhoisConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Chat:    chatCfg,
		Whois:   whois,
		Storage: storage,
		Blob:    loadBlobConfig(server),
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// ChatConfig 描述会话编排的默认值。
type ChatConfig struct {
	DefaultCategory chat.Category
	Models          map[chat.Category]string
	HistoryWindow   int
	TitleCap        int
	HostnameCap     int
	NotificationTTL time.Duration
	Greeting        string
}

// DefaultChatConfig returns the built-in chat defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		DefaultCategory: chat.CategoryText,
		Models: map[chat.Category]string{
			chat.CategoryText:  "gpt-3.5-turbo",
			chat.CategoryImage: "dall-e-2",
			chat.CategoryAudio: "tts-1",
		},
		HistoryWindow:   20,
		TitleCap:        100,
		HostnameCap:     25,
		NotificationTTL: 5000 * time.Millisecond,
		Greeting:        "Hello! How can I assist you today?",
	}
}

// ModelFor returns the default model for category.
func (c ChatConfig) ModelFor(category chat.Category) string {
	return c.Models[category]
}

// chatFile 是 YAML 覆盖文件的结构。
type chatFile struct {
	DefaultCategory string            `yaml:"defaultCategory"`
	Models          map[string]string `yaml:"models"`
	HistoryWindow   int               `yaml:"historyWindow"`
	TitleCap        int               `yaml:"titleCap"`
	HostnameCap     int               `yaml:"hostnameCap"`
	NotificationTTL string            `yaml:"notificationTTL"`
	Greeting        string            `yaml:"greeting"`
}

func loadChatConfig(arkModel string) (ChatConfig, error) {
	cfg := DefaultChatConfig()
	if arkModel != "" {
		cfg.Models[chat.CategoryText] = arkModel
	}

	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")); path != "" {
		if err := applyChatFile(&cfg, path); err != nil {
			return ChatConfig{}, err
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_DEFAULT_CATEGORY")); raw != "" {
		category, err := chat.ParseCategory(raw)
		if err != nil {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_DEFAULT_CATEGORY: %w", err)
		}
		cfg.DefaultCategory = category
	}

	for _, category := range chat.Categories() {
		key := "CHAT_MODEL_" + strings.ToUpper(string(category))
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			cfg.Models[category] = value
		}
	}

	if window, err := parseOptionalIntEnv("CHAT_HISTORY_WINDOW"); err != nil {
		return ChatConfig{}, err
	} else if window != nil {
		cfg.HistoryWindow = *window
	}

	if titleCap, err := parseOptionalIntEnv("CHAT_TITLE_CAP"); err != nil {
		return ChatConfig{}, err
	} else if titleCap != nil {
		cfg.TitleCap = *titleCap
	}

	if ttl, err := parseOptionalIntEnv("NOTIFICATION_TTL_MS"); err != nil {
		return ChatConfig{}, err
	} else if ttl != nil {
		cfg.NotificationTTL = time.Duration(*ttl) * time.Millisecond
	}

	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = 1
	}
	return cfg, nil
}

func applyChatFile(cfg *ChatConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chat config %s: %w", path, err)
	}

	var file chatFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse chat config %s: %w", path, err)
	}

	if file.DefaultCategory != "" {
		category, err := chat.ParseCategory(file.DefaultCategory)
		if err != nil {
			return fmt.Errorf("chat config %s: %w", path, err)
		}
		cfg.DefaultCategory = category
	}
	for name, modelID := range file.Models {
		category, err := chat.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("chat config %s: %w", path, err)
		}
		cfg.Models[category] = modelID
	}
	if file.HistoryWindow > 0 {
		cfg.HistoryWindow = file.HistoryWindow
	}
	if file.TitleCap > 0 {
		cfg.TitleCap = file.TitleCap
	}
	if file.HostnameCap > 0 {
		cfg.HostnameCap = file.HostnameCap
	}
	if file.NotificationTTL != "" {
		ttl, err := time.ParseDuration(file.NotificationTTL)
		if err != nil {
			return fmt.Errorf("chat config %s: invalid notificationTTL: %w", path, err)
		}
		cfg.NotificationTTL = ttl
	}
	if file.Greeting != "" {
		cfg.Greeting = file.Greeting
	}
	return nil
}

// WhoisConfig 描述域名注册信息查询服务。
type WhoisConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Enabled 表示是否配置了 WHOIS API 密钥。
func (c WhoisConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadWhoisConfig() (WhoisConfig, error) {
	timeout, err := parseOptionalIntEnv("WHOIS_TIMEOUT")
	if err != nil {
		return WhoisConfig{}, err
	}
	timeoutSeconds := 15
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return WhoisConfig{
		APIKey:  strings.TrimSpace(os.Getenv("WHOIS_API_KEY")),
		BaseURL: getEnvOrDefault("WHOIS_BASE_URL", "https://www.whoisxmlapi.com/whoisserver/WhoisService"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// StorageConfig 选择会话持久化后端。
type StorageConfig struct {
	Backend          string
	SQLitePath       string
	FirestoreProject string
}

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", BackendMemory))
	cfg := StorageConfig{
		Backend:          backend,
		SQLitePath:       getEnvOrDefault("SQLITE_PATH", "data/chats.db"),
		FirestoreProject: strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT")),
	}

	switch backend {
	case BackendMemory, BackendSQLite:
	case BackendFirestore:
		if cfg.FirestoreProject == "" {
			return StorageConfig{}, fmt.Errorf("FIRESTORE_PROJECT must be set for the firestore backend")
		}
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value: %q", backend)
	}
	return cfg, nil
}

// BlobConfig 描述二进制文件存储位置。
type BlobConfig struct {
	Dir     string
	BaseURL string
}

func loadBlobConfig(server ServerConfig) BlobConfig {
	defaultBase := "http://localhost" + server.Addr + "/api/blobs"
	if !strings.HasPrefix(server.Addr, ":") {
		defaultBase = "http://" + server.Addr + "/api/blobs"
	}
	return BlobConfig{
		Dir:     getEnvOrDefault("BLOB_DIR", "data/blobs"),
		BaseURL: strings.TrimRight(getEnvOrDefault("BLOB_BASE_URL", defaultBase), "/"),
	}
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
