package config

import (
	"errors"
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
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150; empty disables dead-letter publishing
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	DLQTopic       string // topic for dead-lettered actions
	DLQChannel     string // channel used by dlq-tail
}

type Store struct {
	Backend string // memory, file, sqlite, postgres
	Path    string // directory (file) or database file (sqlite)
	Key     string // persisted key holding the queue
}

type API struct {
	BaseURL        string        // REST API the queued actions are replayed against
	RequestTimeout time.Duration // per-request timeout
}

type Connectivity struct {
	ProbeURL      string        // health URL probed to detect connectivity; empty disables probing
	ProbeInterval time.Duration // time between probes
	ProbeTimeout  time.Duration // probe request timeout
	StartOnline   bool          // initial state before the first probe or event
}

type Replay struct {
	MaxAttempts   int  // failed replays before dead-lettering; 0 keeps actions forever
	DropPermanent bool // dead-letter actions rejected with a permanent 4xx
	PublishDLQ    bool // publish dead letters to NSQ instead of only logging them
}

type FakeAPI struct {
	FailFirstN      int      // Number of requests to fail initially
	FailPaths       []string // Paths that always fail
	FailStatus      int      // Status returned for failures
	ResponseDelayMS int      // Simulated response delay in milliseconds
	Port            string   // Server listen port
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	GRPCPort     string // :50051
	OTLPEndpoint string // empty disables trace export
	CORSOrigins  []string
	DB           DB
	NSQ          NSQ
	Store        Store
	API          API
	Connectivity Connectivity
	Replay       Replay
	FakeAPI      FakeAPI
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

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName:      getenv("APP_NAME", "fieldsync"),
		HTTPPort:     getenv("HTTP_PORT", ":8080"),
		GRPCPort:     getenv("GRPC_PORT", ":50051"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSOrigins:  getenvList("CORS_ORIGINS", []string{"*"}),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "fieldsync"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", ""),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "actions_dlq"),
			DLQChannel:     getenv("NSQ_DLQ_CHANNEL", "dlq-tail"),
		},
		Store: Store{
			Backend: strings.ToLower(getenv("STORE_BACKEND", "file")),
			Path:    getenv("STORE_PATH", "./data"),
			Key:     getenv("QUEUE_KEY", "fieldsync.pendingActions"),
		},
		API: API{
			BaseURL:        getenv("API_BASE_URL", "http://localhost:8081"),
			RequestTimeout: getenvDuration("API_REQUEST_TIMEOUT", 15*time.Second),
		},
		Connectivity: Connectivity{
			ProbeURL:      getenv("CONNECTIVITY_PROBE_URL", ""),
			ProbeInterval: getenvDuration("CONNECTIVITY_PROBE_INTERVAL", 10*time.Second),
			ProbeTimeout:  getenvDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
			StartOnline:   getenvBool("CONNECTIVITY_START_ONLINE", true),
		},
		Replay: Replay{
			MaxAttempts:   getenvInt("REPLAY_MAX_ATTEMPTS", 0),
			DropPermanent: getenvBool("REPLAY_DROP_PERMANENT", false),
			PublishDLQ:    getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		FakeAPI: FakeAPI{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			FailPaths:       getenvList("FAIL_PATHS", nil),
			FailStatus:      getenvInt("FAIL_STATUS", 500),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_API_PORT", ":8081"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Validate reports configuration the agent cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory", "file", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.Key == "" {
		errs = append(errs, errors.New("queue key is required"))
	}
	if (c.Store.Backend == "file" || c.Store.Backend == "sqlite") && c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store path is required for %s backend", c.Store.Backend))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	if c.Replay.MaxAttempts < 0 {
		errs = append(errs, errors.New("replay max attempts must not be negative"))
	}
	if c.Replay.PublishDLQ && c.NSQ.NsqdTCPAddr == "" {
		errs = append(errs, errors.New("publishing dead letters requires NSQD_TCP_ADDR"))
	}
	if c.Connectivity.ProbeURL != "" && c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, errors.New("connectivity probe interval must be positive"))
	}
	return errors.Join(errs...)
}
