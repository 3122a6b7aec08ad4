// internal/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	lastWritten   []byte
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port           string `json:"port"`
	DataDir        string `json:"data_dir"`
	LogDir         string `json:"log_dir"`
	LogLevel       string `json:"log_level"`
	DebugMode      bool   `json:"debug_mode"`
	StorageBackend string `json:"storage_backend"`

	// 运行参数
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds"`
	LLMRateLimit      float64 `json:"llm_rate_limit"` // 每秒请求数
	APIRateLimit      float64 `json:"api_rate_limit"` // 每个客户端每秒请求数

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 用于加密 config.json 中的密钥，不落盘
	ConfigSecret string `json:"-"`
}

// LLMTimeout 单次模型调用的超时时间
func (c *AppConfig) LLMTimeout() time.Duration {
	if c.LLMTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port              string
	DataDir           string
	LogDir            string
	LogLevel          string
	DebugMode         bool
	StorageBackend    string
	LLMProvider       string
	LLMAPIKey         string
	LLMModel          string
	LLMTimeoutSeconds int
	LLMRateLimit      float64
	APIRateLimit      float64
	ConfigSecret      string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "google"))
	config := &Config{
		Port:              getEnv("PORT", "8080"),
		DataDir:           getEnvPath("DATA_DIR", "data"),
		LogDir:            getEnvPath("LOG_DIR", "logs"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DebugMode:         getEnvBool("DEBUG_MODE", false),
		StorageBackend:    strings.ToLower(getEnv("STORAGE_BACKEND", "file")),
		LLMProvider:       provider,
		LLMAPIKey:         providerAPIKey(provider),
		LLMModel:          getEnv("LLM_MODEL", ""),
		LLMTimeoutSeconds: getEnvInt("LLM_TIMEOUT", 120),
		LLMRateLimit:      getEnvFloat("LLM_RATE_LIMIT", 2),
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 20),
		ConfigSecret:      getEnv("CONFIG_SECRET", ""),
	}

	switch config.StorageBackend {
	case "file", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND 取值无效: %s", config.StorageBackend)
	}

	if config.LLMAPIKey == "" {
		// 只记录警告，不返回错误
		utils.GetLogger().Warn("未设置LLM API密钥，需要通过 /api/settings 配置后才能使用AI功能", map[string]interface{}{
			"provider": provider,
		})
	}

	return config, nil
}

// providerAPIKey 按提供商读取对应的环境变量
func providerAPIKey(provider string) string {
	switch provider {
	case "openrouter":
		return getEnv("OPENROUTER_API_KEY", getEnv("API_KEY", ""))
	default:
		return getEnv("GEMINI_API_KEY", getEnv("API_KEY", ""))
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			utils.GetLogger().Warn("创建目录失败", map[string]interface{}{"path": path, "error": err})
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	return initFrom(baseConfig, filepath.Join(dataDir, "config.json"))
}

func initFrom(baseConfig *Config, path string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = path
	cfg := fromBase(baseConfig)

	// 尝试从文件加载已保存的LLM配置
	if saved, err := readConfigFile(path, baseConfig.ConfigSecret); err == nil {
		cfg.LLMProvider = saved.LLMProvider
		cfg.LLMConfig = saved.LLMConfig
		if cfg.LLMConfig == nil {
			cfg.LLMConfig = map[string]string{}
		}
		// 如果文件中没有API密钥，使用环境变量的密钥
		if cfg.LLMConfig["api_key"] == "" && cfg.LLMProvider == baseConfig.LLMProvider {
			cfg.LLMConfig["api_key"] = baseConfig.LLMAPIKey
		}
	} else if !os.IsNotExist(err) {
		utils.GetLogger().Warn("读取配置文件失败，使用环境变量配置", map[string]interface{}{
			"file":  path,
			"error": err,
		})
	}

	currentConfig = cfg
	return saveLocked()
}

func fromBase(base *Config) *AppConfig {
	llmConfig := map[string]string{"api_key": base.LLMAPIKey}
	if base.LLMModel != "" {
		llmConfig["default_model"] = base.LLMModel
	}
	return &AppConfig{
		Port:              base.Port,
		DataDir:           base.DataDir,
		LogDir:            base.LogDir,
		LogLevel:          base.LogLevel,
		DebugMode:         base.DebugMode,
		StorageBackend:    base.StorageBackend,
		LLMTimeoutSeconds: base.LLMTimeoutSeconds,
		LLMRateLimit:      base.LLMRateLimit,
		APIRateLimit:      base.APIRateLimit,
		LLMProvider:       base.LLMProvider,
		LLMConfig:         llmConfig,
		ConfigSecret:      base.ConfigSecret,
	}
}

// readConfigFile 读取并解密配置文件
func readConfigFile(path, secret string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var saved AppConfig
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if key := saved.LLMConfig["api_key"]; key != "" {
		plain, err := utils.DecryptSecret(key, secret)
		if err != nil {
			return nil, fmt.Errorf("解密API密钥失败: %w", err)
		}
		saved.LLMConfig["api_key"] = plain
	}
	return &saved, nil
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 配置系统尚未初始化时，退回到环境变量配置
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", StorageBackend: "memory", LLMProvider: "google"}
		}
		return fromBase(baseConfig)
	}

	return cloneConfig(currentConfig)
}

func cloneConfig(c *AppConfig) *AppConfig {
	configCopy := *c
	configCopy.LLMConfig = make(map[string]string, len(c.LLMConfig))
	for k, v := range c.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = make(map[string]string, len(llmConfig))
	for k, v := range llmConfig {
		currentConfig.LLMConfig[k] = v
	}

	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	onDisk := cloneConfig(currentConfig)
	if onDisk.ConfigSecret != "" {
		enc, err := utils.EncryptSecret(onDisk.LLMConfig["api_key"], onDisk.ConfigSecret)
		if err != nil {
			return fmt.Errorf("加密API密钥失败: %w", err)
		}
		onDisk.LLMConfig["api_key"] = enc
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0600); err != nil {
		return err
	}
	lastWritten = data
	return nil
}

// ConfigFile 返回配置文件路径
func ConfigFile() string {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return configFile
}

// reloadFromDisk 重新读取配置文件中的LLM设置，内容与上次写入相同时忽略
func reloadFromDisk() (*AppConfig, bool, error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return nil, false, fmt.Errorf("配置系统未初始化")
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(data, lastWritten) {
		return nil, false, nil
	}

	saved, err := readConfigFile(configFile, currentConfig.ConfigSecret)
	if err != nil {
		return nil, false, err
	}

	currentConfig.LLMProvider = saved.LLMProvider
	currentConfig.LLMConfig = saved.LLMConfig
	lastWritten = data
	return cloneConfig(currentConfig), true, nil
}
