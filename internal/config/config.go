package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StoreDriverSQLite   = "sqlite3"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	StoreDriver       string
	SQLiteDSN         string
	SQLitePath        string
	SQLiteLogSQL      bool
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	PostgresURL       string
	StorePageSize     int
	StoreQueryTimeout time.Duration

	MQTTBroker         string
	MQTTPort           int
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTTLSCA          string
	MQTTTLSCert        string
	MQTTTLSKey         string
	MQTTApplicationID  string
	MQTTDeviceEUI      string
	MQTTTopic          string
	MQTTConnectAttempt int
	MQTTRetryInterval  time.Duration
	MQTTCooldown       time.Duration
	MQTTConnectTimeout time.Duration
	MQTTAggregateFPort int

	BufferCapacity int
	ListenerBuffer int

	// FallbackLocation anchors "now" for window queries on sensors with no stored reading.
	FallbackLocation *time.Location
	QueryConcurrency int

	PersistReadings bool

	RedisAddr string
	RedisTTL  time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := envOr("HTTP_ADDR", ":8080")

	storeDriver := envOr("STORE_DRIVER", StoreDriverSQLite)
	switch storeDriver {
	case StoreDriverSQLite, StoreDriverPostgres:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q (allowed: %s, %s)", storeDriver, StoreDriverSQLite, StoreDriverPostgres)
	}

	postgresURL := strings.TrimSpace(os.Getenv("POSTGRES_URL"))
	if storeDriver == StoreDriverPostgres && postgresURL == "" {
		return Config{}, fmt.Errorf("POSTGRES_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
	}

	sqliteLogSQL, err := parseBool("DB_LOG_SQL", "false")
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := parseInt("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := parseInt("DB_MAX_IDLE_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := parseDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}
	storePageSize, err := parsePositiveInt("STORE_PAGE_SIZE", "500")
	if err != nil {
		return Config{}, err
	}
	storeQueryTimeout, err := parsePositiveDuration("STORE_QUERY_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}

	mqttPort, err := parseInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "loraclima-" + uuid.NewString()[:8]
	}

	mqttApplicationID := envOr("MQTT_APPLICATION_ID", "e270d3eb-ae8d-49d3-85bb-db401bc60eca")
	mqttDeviceEUI := envOr("MQTT_DEVICE_EUI", "ac1f09fffe1397c9")
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = fmt.Sprintf("application/%s/device/%s/event/up", mqttApplicationID, mqttDeviceEUI)
	}
	if strings.ContainsAny(mqttTopic, "+#") {
		return Config{}, fmt.Errorf("invalid MQTT_TOPIC %q: wildcards are not allowed", mqttTopic)
	}

	tlsCA := strings.TrimSpace(os.Getenv("MQTT_TLS_CA"))
	tlsCert := strings.TrimSpace(os.Getenv("MQTT_TLS_CERT"))
	tlsKey := strings.TrimSpace(os.Getenv("MQTT_TLS_KEY"))
	if (tlsCert == "") != (tlsKey == "") {
		return Config{}, fmt.Errorf("MQTT_TLS_CERT and MQTT_TLS_KEY must be set together")
	}

	connectAttempts, err := parsePositiveInt("MQTT_CONNECT_ATTEMPTS", "10")
	if err != nil {
		return Config{}, err
	}
	retryInterval, err := parsePositiveDuration("MQTT_RETRY_INTERVAL", "2s")
	if err != nil {
		return Config{}, err
	}
	cooldown, err := parsePositiveDuration("MQTT_COOLDOWN", "10s")
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := parsePositiveDuration("MQTT_CONNECT_TIMEOUT", "5s")
	if err != nil {
		return Config{}, err
	}
	aggregateFPort, err := parseInt("MQTT_AGGREGATE_FPORT", "0")
	if err != nil {
		return Config{}, err
	}

	bufferCapacity, err := parsePositiveInt("BUFFER_CAPACITY", "100")
	if err != nil {
		return Config{}, err
	}
	listenerBuffer, err := parsePositiveInt("LISTENER_BUFFER", "16")
	if err != nil {
		return Config{}, err
	}

	tzName := envOr("QUERY_FALLBACK_TZ", "America/Lima")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("invalid QUERY_FALLBACK_TZ %q: %w", tzName, err)
	}
	queryConcurrency, err := parsePositiveInt("QUERY_CONCURRENCY", "4")
	if err != nil {
		return Config{}, err
	}

	persist, err := parseBool("PERSIST_READINGS", "true")
	if err != nil {
		return Config{}, err
	}

	redisTTL, err := parsePositiveDuration("REDIS_TTL", "24h")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		HTTPAddr:           httpAddr,
		StoreDriver:        storeDriver,
		SQLiteDSN:          strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLitePath:         envOr("SQLITE_PATH", "data/telemetry.db"),
		SQLiteLogSQL:       sqliteLogSQL,
		MaxOpenConns:       maxOpenConns,
		MaxIdleConns:       maxIdleConns,
		ConnMaxLifetime:    connMaxLifetime,
		PostgresURL:        postgresURL,
		StorePageSize:      storePageSize,
		StoreQueryTimeout:  storeQueryTimeout,
		MQTTBroker:         envOr("MQTT_BROKER", "localhost"),
		MQTTPort:           mqttPort,
		MQTTClientID:       mqttClientID,
		MQTTUsername:       strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		MQTTPassword:       os.Getenv("MQTT_PASSWORD"),
		MQTTTLSCA:          tlsCA,
		MQTTTLSCert:        tlsCert,
		MQTTTLSKey:         tlsKey,
		MQTTApplicationID:  mqttApplicationID,
		MQTTDeviceEUI:      mqttDeviceEUI,
		MQTTTopic:          mqttTopic,
		MQTTConnectAttempt: connectAttempts,
		MQTTRetryInterval:  retryInterval,
		MQTTCooldown:       cooldown,
		MQTTConnectTimeout: connectTimeout,
		MQTTAggregateFPort: aggregateFPort,
		BufferCapacity:     bufferCapacity,
		ListenerBuffer:     listenerBuffer,
		FallbackLocation:   loc,
		QueryConcurrency:   queryConcurrency,
		PersistReadings:    persist,
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisTTL:           redisTTL,
	}, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func parseInt(key, fallback string) (int, error) {
	s := envOr(key, fallback)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parsePositiveInt(key, fallback string) (int, error) {
	n, err := parseInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := envOr(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := parseDuration(key, fallback)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseBool(key, fallback string) (bool, error) {
	s := envOr(key, fallback)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
