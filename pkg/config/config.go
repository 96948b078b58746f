package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Store     StoreConfig
	Auth      AuthConfig
	Client    ClientConfig
	Debate    DebateConfig
	Generator GeneratorConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address     string
	PublicURL   string   `mapstructure:"public_url"`
	AllowOrigin []string `mapstructure:"allow_origin"`
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

type RedisConfig struct {
	URL string
}

// StoreConfig 選擇房間資料的存儲方式：memory、badger 或 postgres
type StoreConfig struct {
	Driver     string
	BadgerPath string `mapstructure:"badger_path"`
}

type AuthConfig struct {
	Secret string
	TTL    time.Duration
}

// ClientConfig 是 CLI 連線伺服器時使用的設定
type ClientConfig struct {
	ServerURL        string `mapstructure:"server_url"`
	Token            string
	Name             string
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
}

type DebateConfig struct {
	Rounds            int
	TurnDelay         time.Duration `mapstructure:"turn_delay"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	MaxWords          int           `mapstructure:"max_words"`
}

type GeneratorConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allow_origin", []string{"*"})
	v.SetDefault("server.public_url", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "debate_live")
	v.SetDefault("db.port", 5432)
	v.SetDefault("redis.url", "")
	v.SetDefault("store.badger_path", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("auth.ttl", 240*time.Hour)
	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.name", "")
	v.SetDefault("client.handshake_timeout", 10*time.Second)
	v.SetDefault("client.retry_delay", 2*time.Second)
	v.SetDefault("client.max_attempts", 3)
	v.SetDefault("debate.rounds", 3)
	v.SetDefault("debate.turn_delay", 2*time.Second)
	v.SetDefault("debate.generation_timeout", 30*time.Second)
	v.SetDefault("debate.max_words", 30)
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "gemini-1.5-flash")
	v.SetDefault("generator.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("log.level", "INFO")
}

// Load 依序讀取預設值、設定檔、.env 與環境變數
// 環境變數以 DEBATE_ 開頭，例如 DEBATE_STORE_DRIVER
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper(), "")
}

// LoadFrom 使用指定的 viper 實例，file 不為空時直接讀取該檔案
func LoadFrom(v *viper.Viper, file string) (*Config, error) {
	_ = godotenv.Load()

	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./pkg/config")
	v.AddConfigPath(".")
	if file != "" {
		v.SetConfigFile(file)
	}

	v.SetEnvPrefix("debate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 沒有設定檔時只使用預設值與環境變數
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
