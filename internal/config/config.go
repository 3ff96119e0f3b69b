package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/pg"
	"github.com/pkg/errors"
)

const (
	TransportSendgrid = "sendgrid"
	TransportRelay    = "relay"
	TransportAMQP     = "amqp"
)

var config *Config

// Config holds every setting of the dispatcher processes. Only this struct
// must be used to hold configuration values, nothing else reads the
// environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV"`
	AppName  string `env:"APP_NAME"`
	AppDebug bool   `env:"APP_DEBUG"`
	AppHost  string `env:"APP_HOST"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR"`
	MetricsAddr    string `env:"METRICS_ADDR"`
	MetricsURI     string `env:"METRICS_URI"`
	PromNamespace  string `env:"PROM_NAMESPACE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`
	PostgresReadSSLMode  string `env:"POSTGRES_READ_SSLMODE"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresWriteSSLMode  string `env:"POSTGRES_WRITE_SSLMODE"`

	MigrationsDir string `env:"MIGRATIONS_DIR"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	SchedulerInterval    time.Duration `env:"SCHEDULER_INTERVAL"`
	SchedulerConcurrency int           `env:"SCHEDULER_CONCURRENCY"`
	SchedulerClaimEnable bool          `env:"SCHEDULER_CLAIM_ENABLE"`
	SchedulerClaimTTL    time.Duration `env:"SCHEDULER_CLAIM_TTL"`

	DispatchTransport string        `env:"DISPATCH_TRANSPORT"`
	DispatchTimeout   time.Duration `env:"DISPATCH_TIMEOUT"`
	MailFromAddress   string        `env:"MAIL_FROM_ADDRESS"`
	MailFromName      string        `env:"MAIL_FROM_NAME"`

	SendgridAPIKey  string `env:"SENDGRID_API_KEY"`
	SendgridHost    string `env:"SENDGRID_HOST"`
	SendgridRetries int    `env:"SENDGRID_RETRIES"`

	RelayPrimaryUrl   string `env:"RELAY_PRIMARY_URL"`
	RelaySecondaryUrl string `env:"RELAY_SECONDARY_URL"`
	RelayBackupUrl    string `env:"RELAY_BACKUP_URL"`
	RelayMaxRetries   int    `env:"RELAY_MAX_RETRIES"`

	AMQPUrl        string `env:"AMQP_URL"`
	AMQPExchange   string `env:"AMQP_EXCHANGE"`
	AMQPRoutingKey string `env:"AMQP_ROUTING_KEY"`
	AMQPQueue      string `env:"AMQP_QUEUE"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT"`

	MailRelayListenAddr string `env:"MAIL_RELAY_LISTEN_ADDR"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	c.applyDefaults()
	if err = c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

// Set installs an already built configuration, used by tests and tools.
func Set(c *Config) {
	c.applyDefaults()
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) applyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "dev"
	}
	if c.AppName == "" {
		c.AppName = "digest_dispatcher"
	}
	if c.HttpListenAddr == "" {
		c.HttpListenAddr = ":8080"
	}
	if c.MetricsURI == "" {
		c.MetricsURI = "/metrics"
	}
	if c.PromNamespace == "" {
		c.PromNamespace = "digest"
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
	if c.SchedulerInterval <= 0 {
		c.SchedulerInterval = time.Minute
	}
	if c.SchedulerConcurrency <= 0 {
		c.SchedulerConcurrency = 4
	}
	if c.SchedulerClaimTTL <= 0 {
		c.SchedulerClaimTTL = 10 * time.Minute
	}
	if c.DispatchTransport == "" {
		c.DispatchTransport = TransportSendgrid
	}
	c.DispatchTransport = strings.ToLower(c.DispatchTransport)
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.MailFromName == "" {
		c.MailFromName = "Daily Digest"
	}
	if c.SendgridHost == "" {
		c.SendgridHost = "https://api.sendgrid.com"
	}
	if c.SendgridRetries <= 0 {
		c.SendgridRetries = 2
	}
	if c.RelayMaxRetries <= 0 {
		c.RelayMaxRetries = 3
	}
	if c.AMQPExchange == "" {
		c.AMQPExchange = "digest"
	}
	if c.AMQPRoutingKey == "" {
		c.AMQPRoutingKey = "digest.email"
	}
	if c.AMQPQueue == "" {
		c.AMQPQueue = "digest_email_queue"
	}
	if c.BreakerMaxFailures <= 0 {
		c.BreakerMaxFailures = 5
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = 30 * time.Second
	}
	if c.MailRelayListenAddr == "" {
		c.MailRelayListenAddr = ":8090"
	}
}

// Validate checks the settings the selected transport cannot run without.
func (c *Config) Validate() error {
	switch c.DispatchTransport {
	case TransportSendgrid:
		if c.SendgridAPIKey == "" {
			return errors.New("SENDGRID_API_KEY is required for the sendgrid transport")
		}
	case TransportRelay:
		if len(c.RelayEndpoints()) == 0 {
			return errors.New("at least one RELAY_*_URL is required for the relay transport")
		}
	case TransportAMQP:
		if c.AMQPUrl == "" {
			return errors.New("AMQP_URL is required for the amqp transport")
		}
	default:
		return errors.Errorf("unknown DISPATCH_TRANSPORT %q", c.DispatchTransport)
	}
	if c.DispatchTransport != TransportAMQP && c.MailFromAddress == "" {
		return errors.New("MAIL_FROM_ADDRESS is required")
	}
	if c.SchedulerClaimEnable && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required when SCHEDULER_CLAIM_ENABLE is set")
	}
	return nil
}

func (c *Config) RelayEndpoints() []string {
	var endpoints []string
	for _, u := range []string{c.RelayPrimaryUrl, c.RelaySecondaryUrl, c.RelayBackupUrl} {
		if u != "" {
			endpoints = append(endpoints, u)
		}
	}
	return endpoints
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresReadSSLMode,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresWriteSSLMode,
	}
}
