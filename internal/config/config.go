package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env       string        `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort   int           `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost   string        `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	JwtSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"secret42212"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
	// SealKey encrypts ledger secrets at rest.
	SealKey   string `yaml:"seal_key" env:"SEAL_KEY" env-default:"change-me"`
	Postgres  `yaml:"postgres"`
	Ledger    `yaml:"ledger"`
	Voice     `yaml:"voice"`
	Redis     `yaml:"redis"`
	Nats      `yaml:"nats"`
	RateLimit `yaml:"rate_limit"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass string `yaml:"pass" env:"POSTGRES_PASS" env-default:"12345"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
}

type Ledger struct {
	URL            string        `yaml:"url" env:"LEDGER_URL" env-default:"wss://s.altnet.rippletest.net:51233"`
	FaucetURL      string        `yaml:"faucet_url" env:"LEDGER_FAUCET_URL" env-default:"https://faucet.altnet.rippletest.net/accounts"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"15s"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout" env-default:"30s"`
	PollInterval   time.Duration `yaml:"poll_interval" env-default:"1s"`
	CacheTTL       time.Duration `yaml:"cache_ttl" env-default:"10s"`
}

type Voice struct {
	Language        string        `yaml:"language" env:"VOICE_LANGUAGE" env-default:"en-US"`
	Continuous      bool          `yaml:"continuous" env-default:"true"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout" env:"VOICE_SILENCE_TIMEOUT" env-default:"1500ms"`
	EnergyThreshold float64       `yaml:"energy_threshold" env-default:"0.02"`
	DeepgramURL     string        `yaml:"deepgram_url" env-default:"wss://api.deepgram.com/v1/listen"`
	DeepgramKey     string        `yaml:"deepgram_key" env:"DEEPGRAM_API_KEY"`
	SampleRate      int           `yaml:"sample_rate" env-default:"16000"`
}

// Redis is optional; an empty Addr disables caching and token revocation.
type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Nats is optional; an empty URL disables event publishing.
type Nats struct {
	URL string `yaml:"url" env:"NATS_URL"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second" env-default:"1"`
	Burst     int     `yaml:"burst" env-default:"5"`
}

func MustLoad() *Config {
	// .env is a convenience for local runs, it is fine when missing.
	_ = godotenv.Load()

	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
