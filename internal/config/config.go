package config // package config loads application configuration from environment variables

import (
	"log"     // log reports configuration errors and halts execution
	"os"      // os provides access to environment variables
	"strings" // strings splits list-valued variables
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Strings for identifiers, secrets and
// URLs; ints for durations, counts and costs.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	Project   string // project identifier scoping tasks in the shared queue
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify caller JWTs

	RedisPrefix string // key namespace for seat locks and offer rate limits

	AMQPURL string // RabbitMQ URL for the webhook delivery queue

	CatalogBaseURL string // base URL of the event/offer/membership catalog service
	NumberingURL   string // endpoint of the transaction numbering service

	AdvanceBookingDays  int // how far ahead an event may be booked
	TransactionTTLMin   int // minutes an unconfirmed transaction stays alive
	SeatLockMarginHours int // hours seat locks outlive the event end
	TaskTries           int // attempts granted to each queued task
	TaskRetryMin        int // minutes before a stalled Running task is retried

	WebhookSubscribers []string // URLs notified after a transaction settles
}

// Load reads configuration from environment variables. Required
// variables are enforced by must() and missing values cause the
// program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		Project:   envStr("PROJECT_ID", "cinetick"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		RedisPrefix: envStr("REDIS_KEY_PREFIX", "cinetick"),

		AMQPURL: must("RABBITMQ_URL"),

		CatalogBaseURL: must("CATALOG_BASE_URL"),
		NumberingURL:   must("NUMBERING_URL"),

		AdvanceBookingDays:  envInt("ADVANCE_BOOKING_DAYS", 93),
		TransactionTTLMin:   envInt("TRANSACTION_TTL_MIN", 15),
		SeatLockMarginHours: envInt("SEAT_LOCK_MARGIN_HOURS", 24),
		TaskTries:           envInt("TASK_TRIES", 10),
		TaskRetryMin:        envInt("TASK_RETRY_MIN", 10),

		WebhookSubscribers: envList("WEBHOOK_SUBSCRIBERS"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and
// exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// envList parses a comma-separated variable into a slice, dropping
// empty entries.
func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
