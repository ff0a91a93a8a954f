package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"inviqa/layer-hook-relay/log"

	"github.com/alexflint/go-arg"
)

const (
	MySQL    DbDriver = "mysql"
	Postgres DbDriver = "postgres"

	SQLQueue   QueueDriver = "sql"
	KafkaQueue QueueDriver = "kafka"
	HTTPQueue  QueueDriver = "http"
)

type DbDriver string

type QueueDriver string

var supportedDbTypes = map[DbDriver]bool{
	Postgres: true,
	MySQL:    true,
}

var supportedQueueTypes = map[QueueDriver]bool{
	SQLQueue:   true,
	KafkaQueue: true,
	HTTPQueue:  true,
}

type Config struct {
	QueueDriver QueueDriver `arg:"--queue-driver,env:QUEUE_DRIVER"`
	HTTPAddr    string      `arg:"--http-addr,env:HTTP_ADDR"`

	DispatchConcurrency int `arg:"--dispatch-concurrency,env:DISPATCH_CONCURRENCY"`
	DispatchAttempts    int `arg:"--dispatch-attempts,env:DISPATCH_ATTEMPTS"`
	BackoffBaseMs       int `arg:"--backoff-base-ms,env:BACKOFF_BASE_MS"`
	BackoffMaxMs        int `arg:"--backoff-max-ms,env:BACKOFF_MAX_MS"`
	RequestTimeoutMs    int `arg:"--request-timeout-ms,env:REQUEST_TIMEOUT_MS"`
	BatchTimeoutMs      int `arg:"--batch-timeout-ms,env:BATCH_TIMEOUT_MS"`
	DeadlineMarginMs    int `arg:"--deadline-margin-ms,env:DEADLINE_MARGIN_MS"`
	BatchSize           int `arg:"--batch-size,env:BATCH_SIZE"`
	MaxReceiveCount     int `arg:"--max-receive-count,env:MAX_RECEIVE_COUNT"`

	SkipMigrations   bool     `arg:"--skip-migrations,env:SKIP_MIGRATIONS"`
	DBHost           string   `arg:"--db-host,env:DB_HOST"`
	DBPort           uint32   `arg:"--db-port,env:DB_PORT"`
	DBUser           string   `arg:"--db-user,env:DB_USER"`
	DBPass           string   `arg:"--db-pass,env:DB_PASS"`
	DBSchema         string   `arg:"--db-schema,env:DB_SCHEMA"`
	DBDriver         DbDriver `arg:"--db-driver,env:DB_DRIVER"`
	DBQueueTable     string   `arg:"--db-queue-table,env:DB_QUEUE_TABLE"`
	WriteConcurrency int      `arg:"--write-concurrency,env:WRITE_CONCURRENCY"`
	PollFrequencyMs  int      `arg:"--poll-frequency-ms,env:POLL_FREQUENCY_MS"`

	KafkaHost            []string `arg:"--kafka-host,env:KAFKA_HOST"`
	KafkaTopic           string   `arg:"--kafka-topic,env:KAFKA_TOPIC"`
	KafkaGroupID         string   `arg:"--kafka-group-id,env:KAFKA_GROUP_ID"`
	KafkaRetryTopic      string   `arg:"--kafka-retry-topic,env:KAFKA_RETRY_TOPIC"`
	KafkaDeadLetterTopic string   `arg:"--kafka-dead-letter-topic,env:KAFKA_DEAD_LETTER_TOPIC"`
	KafkaFlushIntervalMs int      `arg:"--kafka-flush-interval-ms,env:KAFKA_FLUSH_INTERVAL_MS"`
	TLSEnable            bool     `arg:"--kafka-tls,env:TLS_ENABLE"`
	TLSSkipVerifyPeer    bool     `arg:"--kafka-tls-verify-peer,env:TLS_SKIP_VERIFY_PEER"`

	RunCleanup      bool   `arg:"--cleanup,env:RUN_CLEANUP"`
	SidecarProxyUrl string `arg:"--sidecar-proxy-url,env:SIDECAR_PROXY_URL"`
}

func NewConfig() (*Config, error) {
	c := &Config{
		QueueDriver:          SQLQueue,
		HTTPAddr:             ":80",
		DispatchConcurrency:  8,
		DispatchAttempts:     3,
		BackoffBaseMs:        200,
		BackoffMaxMs:         5000,
		RequestTimeoutMs:     10000,
		BatchTimeoutMs:       30000,
		DeadlineMarginMs:     500,
		BatchSize:            10,
		MaxReceiveCount:      5,
		DBQueueTable:         "layer_hook_queue",
		WriteConcurrency:     1,
		PollFrequencyMs:      500,
		KafkaGroupID:         "layer-hook-relay",
		KafkaFlushIntervalMs: 1000,
	}
	arg.MustParse(c)

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	if !supportedQueueTypes[c.QueueDriver] {
		return fmt.Errorf("the QUEUE_DRIVER provided (%s) is not supported", c.QueueDriver)
	}

	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1, got %d", c.DispatchConcurrency)
	}

	if c.DispatchAttempts < 1 {
		return fmt.Errorf("DISPATCH_ATTEMPTS must be at least 1, got %d", c.DispatchAttempts)
	}

	switch c.QueueDriver {
	case SQLQueue:
		if !supportedDbTypes[c.DBDriver] {
			return fmt.Errorf("the DB_DRIVER provided (%s) is not supported", c.DBDriver)
		}
		if c.DBHost == "" || c.DBSchema == "" || c.DBUser == "" {
			return fmt.Errorf("DB_HOST, DB_USER and DB_SCHEMA are required for the %s queue driver", c.QueueDriver)
		}
	case KafkaQueue:
		if len(c.KafkaHost) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_HOST and KAFKA_TOPIC are required for the %s queue driver", c.QueueDriver)
		}
	}

	return nil
}

func (c *Config) GetPollIntervalDurationInMs() time.Duration {
	return time.Duration(c.PollFrequencyMs) * time.Millisecond
}

func (c *Config) GetBackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *Config) GetBatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

func (c *Config) GetDeadlineMargin() time.Duration {
	return time.Duration(c.DeadlineMarginMs) * time.Millisecond
}

func (c *Config) GetKafkaFlushInterval() time.Duration {
	return time.Duration(c.KafkaFlushIntervalMs) * time.Millisecond
}

// GetKafkaRetryTopic falls back to the source topic, so failed records are
// consumed again by the same group.
func (c *Config) GetKafkaRetryTopic() string {
	if c.KafkaRetryTopic == "" {
		return c.KafkaTopic
	}
	return c.KafkaRetryTopic
}

func (c *Config) GetDSN() string {
	switch c.DBDriver {
	case MySQL:
		tls := "false"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				tls = "skip-verify"
			} else {
				tls = "true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&multiStatements=true", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBSchema, tls)
	case Postgres:
		sslMode := "disable"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				sslMode = "require"
			} else {
				sslMode = "verify-full"
			}
		}
		return fmt.Sprintf("%s://%s@%s:%d/%s?sslmode=%s", c.DBDriver, url.UserPassword(c.DBUser, c.DBPass), c.DBHost, c.DBPort, c.DBSchema, sslMode)
	default:
		log.Logger.Fatalf("the DB driver configured (%s) is not supported", c.DBDriver)
		return ""
	}
}

// GetDependencySystemAddresses returns the TCP addresses checked by the
// readiness probe.
func (c *Config) GetDependencySystemAddresses() []string {
	if c.QueueDriver == KafkaQueue {
		return c.KafkaHost
	}
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"QueueDriver":          c.QueueDriver,
		"HTTPAddr":             c.HTTPAddr,
		"DispatchConcurrency":  c.DispatchConcurrency,
		"DispatchAttempts":     c.DispatchAttempts,
		"BackoffBaseMs":        c.BackoffBaseMs,
		"BackoffMaxMs":         c.BackoffMaxMs,
		"RequestTimeoutMs":     c.RequestTimeoutMs,
		"BatchTimeoutMs":       c.BatchTimeoutMs,
		"DeadlineMarginMs":     c.DeadlineMarginMs,
		"BatchSize":            c.BatchSize,
		"MaxReceiveCount":      c.MaxReceiveCount,
		"SkipMigrations":       c.SkipMigrations,
		"DBHost":               c.DBHost,
		"DBPort":               c.DBPort,
		"DBUser":               c.DBUser,
		"DBPass":               "xxxxx",
		"DBSchema":             c.DBSchema,
		"DBDriver":             c.DBDriver,
		"DBQueueTable":         c.DBQueueTable,
		"WriteConcurrency":     c.WriteConcurrency,
		"PollFrequencyMs":      c.PollFrequencyMs,
		"KafkaHost":            c.KafkaHost,
		"KafkaTopic":           c.KafkaTopic,
		"KafkaGroupID":         c.KafkaGroupID,
		"KafkaRetryTopic":      c.KafkaRetryTopic,
		"KafkaDeadLetterTopic": c.KafkaDeadLetterTopic,
		"KafkaFlushIntervalMs": c.KafkaFlushIntervalMs,
		"TLSEnable":            c.TLSEnable,
		"TLSSkipVerifyPeer":    c.TLSSkipVerifyPeer,
		"RunCleanup":           c.RunCleanup,
		"SidecarProxyUrl":      c.SidecarProxyUrl,
	})
}

func (d DbDriver) MySQL() bool {
	return d == MySQL
}

func (d DbDriver) Postgres() bool {
	return d == Postgres
}

func (d DbDriver) String() string {
	return string(d)
}

// DriverName is the name the database/sql driver for d is registered under.
func (d DbDriver) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return string(d)
}

func (q QueueDriver) String() string {
	return string(q)
}
