package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"LEDGERGUARD_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"LEDGERGUARD_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"LEDGERGUARD_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"LEDGERGUARD_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"LEDGERGUARD_REDIS_DNS"`
}

type QueueConfig struct {
	TransactionQueue string `json:"transaction_queue" envconfig:"LEDGERGUARD_QUEUE_TRANSACTION"`
	IncidentQueue    string `json:"incident_queue" envconfig:"LEDGERGUARD_QUEUE_INCIDENT"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"LEDGERGUARD_QUEUE_WEBHOOK"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"LEDGERGUARD_QUEUE_MAX_RETRY"`
}

// TransactionConfig tunes the transfer engine. FeeAccount is the ledger
// account fees settle into; transfers that carry a fee are rejected when
// it is unset. LockDuration is in seconds.
type TransactionConfig struct {
	FeeAccount   string `json:"fee_account" envconfig:"LEDGERGUARD_TRANSACTION_FEE_ACCOUNT"`
	MaxWorkers   int    `json:"max_workers" envconfig:"LEDGERGUARD_TRANSACTION_MAX_WORKERS"`
	LockDuration int    `json:"lock_duration" envconfig:"LEDGERGUARD_TRANSACTION_LOCK_DURATION"`
}

type AccountGenerationHttpService struct {
	Url     string `json:"url"`
	Timeout int    `json:"timeout"`
	Headers struct {
		Authorization string `json:"Authorization"`
	} `json:"headers"`
}

type AccountNumberGenerationConfig struct {
	EnableAutoGeneration bool                         `json:"enable_auto_generation"`
	HttpService          AccountGenerationHttpService `json:"http_service"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"LEDGERGUARD_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"LEDGERGUARD_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"LEDGERGUARD_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

// AIConfig points at the optional narrative-generation collaborator.
// When disabled or unreachable, incident classification still proceeds
// and ai_analysis stays null.
type AIConfig struct {
	Enabled bool              `json:"enabled" envconfig:"LEDGERGUARD_AI_ENABLED"`
	Url     string            `json:"url" envconfig:"LEDGERGUARD_AI_URL"`
	Headers map[string]string `json:"headers"`
}

// RiskConfig carries the numeric thresholds the transaction detectors
// evaluate. Amounts are expressed in major units.
type RiskConfig struct {
	LargeTransactionThreshold float64  `json:"large_transaction_threshold" envconfig:"LEDGERGUARD_RISK_LARGE_TXN_THRESHOLD"`
	UnusualSizeMultiplier     int      `json:"unusual_size_multiplier" envconfig:"LEDGERGUARD_RISK_UNUSUAL_SIZE_MULTIPLIER"`
	VelocityCount             int      `json:"velocity_count" envconfig:"LEDGERGUARD_RISK_VELOCITY_COUNT"`
	VelocityTotal             float64  `json:"velocity_total" envconfig:"LEDGERGUARD_RISK_VELOCITY_TOTAL"`
	AI                        AIConfig `json:"ai"`
}

type Configuration struct {
	ProjectName             string                        `json:"project_name" envconfig:"LEDGERGUARD_PROJECT_NAME"`
	Server                  ServerConfig                  `json:"server"`
	DataSource              DataSourceConfig              `json:"data_source"`
	Redis                   RedisConfig                   `json:"redis"`
	Queue                   QueueConfig                   `json:"queue"`
	Transaction             TransactionConfig             `json:"transaction"`
	AccountNumberGeneration AccountNumberGenerationConfig `json:"account_number_generation"`
	Notification            Notification                  `json:"notification"`
	RateLimit               RateLimitConfig               `json:"rate_limit"`
	Risk                    RiskConfig                    `json:"risk"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("ledgerguard", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called ledgerguard.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "LedgerGuard Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.TransactionQueue == "" {
		cnf.Queue.TransactionQueue = "new:transaction"
	}
	if cnf.Queue.IncidentQueue == "" {
		cnf.Queue.IncidentQueue = "new:incident"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}

	if cnf.Transaction.MaxWorkers <= 0 {
		cnf.Transaction.MaxWorkers = 10
	}
	if cnf.Transaction.LockDuration <= 0 {
		cnf.Transaction.LockDuration = 30
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Risk.LargeTransactionThreshold <= 0 {
		cnf.Risk.LargeTransactionThreshold = 10000
	}
	if cnf.Risk.UnusualSizeMultiplier <= 0 {
		cnf.Risk.UnusualSizeMultiplier = 5
	}
	if cnf.Risk.VelocityCount <= 0 {
		cnf.Risk.VelocityCount = 10
	}
	if cnf.Risk.VelocityTotal <= 0 {
		cnf.Risk.VelocityTotal = 50000
	}

	if cnf.Risk.AI.Enabled && cnf.Risk.AI.Url == "" {
		log.Println("Warning: AI narrative enabled without a url. Disabling.")
		cnf.Risk.AI.Enabled = false
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
