package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "1m").
// Omitted fields keep the values from Default().
type Config struct {
	Fetch   FetchConfig   `json:"fetch"`
	Parser  ParserConfig  `json:"parser"`
	State   StateConfig   `json:"state"`
	Notify  NotifyConfig  `json:"notify"`
	Poll    PollConfig    `json:"poll"`
	Logging LoggingConfig `json:"logging"`
	Ops     OpsConfig     `json:"ops"`
}

// Fetch source modes.
const (
	ModeAuto           = ""
	ModeLiveHTTP       = "live_http"
	ModeLocalFile      = "local_file"
	ModeEmbeddedSample = "embedded_sample"
)

// FetchConfig controls where the upstream payload comes from.
//
// When Mode is empty the source is picked by presence:
// endpoint -> live_http, payload_file -> local_file, otherwise embedded_sample.
type FetchConfig struct {
	Mode        string            `json:"mode,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	PayloadFile string            `json:"payload_file,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
	MaxRetries  int               `json:"max_retries"`
	Headers     map[string]string `json:"headers,omitempty"`

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`

	Breaker BreakerConfig `json:"breaker"`
}

// BreakerConfig controls the circuit breaker around live fetches.
// A negative FailureThreshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold"`
	OpenTimeout      string `json:"open_timeout,omitempty"`
}

// ParserConfig names the payload keys the parser reads.
type ParserConfig struct {
	ListKey      string `json:"list_key,omitempty"`
	IDKey        string `json:"id_key,omitempty"`
	NameKey      string `json:"name_key,omitempty"`
	AvailableKey string `json:"available_key,omitempty"`
	QuantityKey  string `json:"quantity_key,omitempty"`
}

// StateConfig controls the durable state store.
//
// Example:
//
//	"state": { "driver": "sqlite", "path": "./stockwatch.db" }
type StateConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file, sqlite
	URL         string `json:"url,omitempty"`          // redis
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	Key         string `json:"key,omitempty"`          // redis hash key
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// Notification sinks.
const (
	SinkTelegram = "telegram"
	SinkKafka    = "kafka"
	SinkNone     = "none"
)

// NotifyConfig controls alert delivery.
type NotifyConfig struct {
	Sink        string `json:"sink"`
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Kafka    KafkaConfig    `json:"kafka"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   string `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// APIURL overrides the Bot API base URL (local bot API servers, tests).
	APIURL string `json:"api_url,omitempty"`
}

type KafkaConfig struct {
	Brokers           []string `json:"brokers,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	CreateTopic       bool     `json:"create_topic,omitempty"`
	Partitions        int32    `json:"partitions,omitempty"`
	ReplicationFactor int16    `json:"replication_factor,omitempty"`
}

// PollConfig controls the cycle schedule.
//
// Schedule accepts a Go duration ("60s"), "every:5m", a cron expression
// ("*/30 * * * * *" or "cron:0 */2 * * *") or an "HH:MM" interval ("00:05").
type PollConfig struct {
	Schedule     string `json:"schedule"`
	RunOnStart   bool   `json:"run_on_start"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OpsConfig controls the operational HTTP server (/healthz, /status, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			Timeout:      "15s",
			MaxRetries:   2,
			MaxBodyBytes: 8 << 20,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      "60s",
			},
		},
		Parser: ParserConfig{
			ListKey:      "data",
			IDKey:        "_id",
			NameKey:      "name",
			AvailableKey: "available",
			QuantityKey:  "inventory_quantity",
		},
		State: StateConfig{
			Driver:      "file",
			Path:        "stock_state.json",
			Key:         "stockwatch:state",
			BusyTimeout: "5s",
		},
		Notify: NotifyConfig{
			Sink:        SinkTelegram,
			RatePerSec:  1,
			SendTimeout: "10s",
			HistorySize: 100,
			Kafka: KafkaConfig{
				Topic:             "stock-transitions",
				Partitions:        1,
				ReplicationFactor: 1,
			},
		},
		Poll: PollConfig{
			Schedule:     "60s",
			RunOnStart:   true,
			CycleTimeout: "2m",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
		Ops: OpsConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// ResolvedMode returns the effective fetch mode.
func (c FetchConfig) ResolvedMode() string {
	if c.Mode != ModeAuto {
		return c.Mode
	}
	switch {
	case c.Endpoint != "":
		return ModeLiveHTTP
	case c.PayloadFile != "":
		return ModeLocalFile
	default:
		return ModeEmbeddedSample
	}
}
