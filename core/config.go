package core

import (
	"fmt"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultSecretKey = "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy"

// storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageGCS   = "gcs"
)

// document store backends
const (
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

type (
	ServerConfig struct {
		Host            string
		Port            string
		DebugHost       string
		ShutdownTimeout time.Duration
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	StorageConfig struct {
		Backend       string
		LocalDir      string
		PublicBaseURL string // locator prefix for the local backend
		TusDir        string
		MaxUploadSize int64
		Bucket        string
		Region        string
		Endpoint      string
		AccessKey     string
		SecretKey     string
		URLExpiry     time.Duration // 0 means plain (non-presigned) urls
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Disabled bool
	}

	AIConfig struct {
		BaseURL string
		APIKey  string
		Model   string
		Timeout time.Duration
	}

	Config struct {
		Env      string // DEV (default), TEST, QA, PROD
		Build    string
		Debug    bool
		TestMode bool

		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridApiKey   string

		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Storage  StorageConfig
		Redis    RedisConfig
		AI       AIConfig
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Kidogo")
	v.SetDefault("secretKey", defaultSecretKey)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Kidogo <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.debugHost", "localhost:4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.readTimeout", 5*time.Minute)
	v.SetDefault("server.writeTimeout", 5*time.Minute)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", EnginePostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "kidogo")
	v.SetDefault("database.user", "kidogo")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.localDir", "media")
	v.SetDefault("storage.publicBaseURL", "http://localhost:8000/media")
	v.SetDefault("storage.tusDir", filepath.Join(os.TempDir(), "kidogo-tus"))
	v.SetDefault("storage.maxUploadSize", int64(50<<20))
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accessKey", "")
	v.SetDefault("storage.secretKey", "")
	v.SetDefault("storage.urlExpiry", time.Duration(0))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.disabled", false)

	v.SetDefault("ai.baseURL", "https://api.openai.com/v1")
	v.SetDefault("ai.apiKey", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", 60*time.Second)
}

// NewConfig loads the configuration from defaults, an optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the upper-cased env name, eg. PROD_DATABASE_HOST.
// The returned Config has been validated.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	v.AutomaticEnv()

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing defaultFromEmail")
	}

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail:          *from,
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
		JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetString("server.port"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			ReadTimeout:     v.GetDuration("server.readTimeout"),
			WriteTimeout:    v.GetDuration("server.writeTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Storage: StorageConfig{
			Backend:       v.GetString("storage.backend"),
			LocalDir:      v.GetString("storage.localDir"),
			PublicBaseURL: strings.TrimSuffix(v.GetString("storage.publicBaseURL"), "/"),
			TusDir:        v.GetString("storage.tusDir"),
			MaxUploadSize: v.GetInt64("storage.maxUploadSize"),
			Bucket:        v.GetString("storage.bucket"),
			Region:        v.GetString("storage.region"),
			Endpoint:      v.GetString("storage.endpoint"),
			AccessKey:     v.GetString("storage.accessKey"),
			SecretKey:     v.GetString("storage.secretKey"),
			URLExpiry:     v.GetDuration("storage.urlExpiry"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Disabled: v.GetBool("redis.disabled"),
		},
		AI: AIConfig{
			BaseURL: v.GetString("ai.baseURL"),
			APIKey:  v.GetString("ai.apiKey"),
			Model:   v.GetString("ai.model"),
			Timeout: v.GetDuration("ai.timeout"),
		},
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate reports every missing or inconsistent setting at once.
// The AI api key is optional: flows fail with a missing-credential error when it is not set.
func (c *Config) Validate() error {
	var problems []string
	missing := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			problems = append(problems, fmt.Sprintf("%s is required", name))
		}
	}

	missing("appName", c.AppName)
	missing("secretKey", c.SecretKey)
	missing("server.port", c.Server.Port)
	if !c.Debug && !c.TestMode {
		if c.SecretKey == defaultSecretKey {
			problems = append(problems, "secretKey must be changed outside of debug mode")
		}
		missing("sendgridApiKey", c.SendgridApiKey)
	}

	switch c.Database.Engine {
	case EnginePostgres:
		missing("database.host", c.Database.Host)
		missing("database.name", c.Database.Name)
		missing("database.user", c.Database.User)
	case EngineMemory:
	default:
		problems = append(problems, fmt.Sprintf("database.engine %q is not supported", c.Database.Engine))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		missing("storage.localDir", c.Storage.LocalDir)
		missing("storage.publicBaseURL", c.Storage.PublicBaseURL)
	case StorageS3:
		missing("storage.bucket", c.Storage.Bucket)
		missing("storage.region", c.Storage.Region)
		missing("storage.accessKey", c.Storage.AccessKey)
		missing("storage.secretKey", c.Storage.SecretKey)
	case StorageGCS:
		missing("storage.bucket", c.Storage.Bucket)
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if c.Storage.MaxUploadSize <= 0 {
		problems = append(problems, "storage.maxUploadSize must be positive")
	}

	if !c.Redis.Disabled {
		missing("redis.addr", c.Redis.Addr)
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
