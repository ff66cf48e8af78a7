package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
	URL  string // full DSN; overrides the parts above when set
}

type Store struct {
	Driver     string // memory, sqlite or postgres
	SQLitePath string
}

type EventBus struct {
	Backend     string // none, nsq or nats
	NsqdTCPAddr string // e.g. nsqd:4150
	NATSURL     string // e.g. nats://nats:4222
	TopicPrefix string // events are published to <prefix>.<event type>
}

type RateLimit struct {
	DefaultMax     int
	AuthMax        int
	WebhookTestMax int
	Window         time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration
	OutboundMax    int // deliveries per webhook per window; 0 disables
}

type Delivery struct {
	Timeout      time.Duration // per webhook call
	MaxRedirects int
	UserAgent    string
}

type Auth struct {
	JWTPublicKeyPEM string // identity falls back to client IP when empty
	JWTIssuer       string
	JWTAudience     string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	TLSCertFile     string        // serve HTTPS when both cert and key are set
	TLSKeyFile      string        //
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName                   string
	HTTPPort                  string // :8080
	GRPCPort                  string // :50051
	DB                        DB
	Store                     Store
	EventBus                  EventBus
	RateLimit                 RateLimit
	Delivery                  Delivery
	Auth                      Auth
	URLGuardExtraBlockedHosts []string
	TrustedProxies            []string // peers allowed to set X-Forwarded-For
	ShutdownTimeout           time.Duration
	FakeReceiver              FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeChoice lower-cases v and returns def when it is not one of allowed
func normalizeChoice(v, def string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "taskhook"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		GRPCPort: getenv("GRPC_PORT", ":50051"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "taskhook"),
			URL:  getenv("DATABASE_URL", ""),
		},
		Store: Store{
			Driver:     normalizeChoice(getenv("STORE_DRIVER", "memory"), "memory", "memory", "sqlite", "postgres"),
			SQLitePath: getenv("SQLITE_PATH", "data/taskhook.db"),
		},
		EventBus: EventBus{
			Backend:     normalizeChoice(getenv("EVENTBUS_BACKEND", "none"), "none", "none", "nsq", "nats"),
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NATSURL:     getenv("NATS_URL", "nats://nats:4222"),
			TopicPrefix: getenv("EVENTBUS_TOPIC_PREFIX", "taskhook"),
		},
		RateLimit: RateLimit{
			DefaultMax:     getenvInt("RATE_LIMIT_DEFAULT_MAX", 100),
			AuthMax:        getenvInt("RATE_LIMIT_AUTH_MAX", 5),
			WebhookTestMax: getenvInt("RATE_LIMIT_WEBHOOK_TEST_MAX", 10),
			Window:         getenvDuration("RATE_LIMIT_WINDOW", time.Minute),
			SweepInterval:  getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
			Retention:      getenvDuration("RATE_LIMIT_RETENTION", time.Hour),
			OutboundMax:    getenvInt("RATE_LIMIT_OUTBOUND_MAX", 0),
		},
		Delivery: Delivery{
			Timeout:      getenvDuration("DELIVERY_TIMEOUT", 5*time.Second),
			MaxRedirects: getenvInt("DELIVERY_MAX_REDIRECTS", 3),
			UserAgent:    getenv("DELIVERY_USER_AGENT", "taskhook-webhooks/1.0"),
		},
		Auth: Auth{
			JWTPublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			JWTIssuer:       getenv("JWT_ISSUER", ""),
			JWTAudience:     getenv("JWT_AUDIENCE", ""),
		},
		URLGuardExtraBlockedHosts: getenvList("URLGUARD_EXTRA_BLOCKED_HOSTS"),
		TrustedProxies:            getenvList("RATE_LIMIT_TRUSTED_PROXIES"),
		ShutdownTimeout:           getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			TLSCertFile:     getenv("FAKE_RECEIVER_TLS_CERT", ""),
			TLSKeyFile:      getenv("FAKE_RECEIVER_TLS_KEY", ""),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
