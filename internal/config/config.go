package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Auth types accepted for auth.type
const (
	AuthToken = "token"
	AuthBasic = "basic"
	AuthNone  = "none"
)

// Queue connections accepted for queue.connection
const (
	ConnectionSync   = "sync"
	ConnectionMemory = "memory"
	ConnectionNSQ    = "nsq"
	ConnectionRedis  = "redis"
)

const secretMask = "********"

type App struct {
	Name string `json:"name" yaml:"name"`
	Env  string `json:"env" yaml:"env"`
	URL  string `json:"url" yaml:"url"`
}

type Auth struct {
	Type     string            `json:"type" yaml:"type" validate:"oneof=token basic none"`
	Token    string            `json:"token,omitempty" yaml:"token,omitempty"`
	Username string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password string            `json:"password,omitempty" yaml:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type Queue struct {
	Connection string `json:"connection" yaml:"connection" validate:"oneof=sync memory nsq redis"`
	Name       string `json:"name" yaml:"name"`
	Delay      int    `json:"delay" yaml:"delay" validate:"gte=0"` // seconds
}

// Retry is the in-job retry policy. All durations are whole seconds.
type Retry struct {
	Attempts   int  `json:"attempts" yaml:"attempts"`
	Backoff    int  `json:"backoff" yaml:"backoff"`
	MaxBackoff int  `json:"max_backoff" yaml:"max_backoff"`
	Jitter     bool `json:"jitter" yaml:"jitter"`
}

type HTTP struct {
	Timeout int   `json:"timeout" yaml:"timeout" validate:"gte=0"` // seconds
	Verify  bool  `json:"verify" yaml:"verify"`
	Retry   Retry `json:"retry" yaml:"retry"`
}

type Scrub struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Denylist []string `json:"denylist" yaml:"denylist"`
}

// Delivery is the pipeline configuration snapshot carried by every delivery job.
type Delivery struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Auth     Auth   `json:"auth" yaml:"auth"`
	Queue    Queue  `json:"queue" yaml:"queue"`
	HTTP     HTTP   `json:"http" yaml:"http"`
	Scrub    Scrub  `json:"scrub" yaml:"scrub"`
}

type Features struct {
	LogAuthenticationEvents bool `yaml:"log_authentication_events"`
	AutoloadMiddleware      bool `yaml:"autoload_middleware"`
}

type NSQ struct {
	NsqdTCPAddr    string `yaml:"nsqd_tcp_addr"`    // e.g. nsqd:4150
	LookupHTTPAddr string `yaml:"lookup_http_addr"` // e.g. nsqlookupd:4161
	Channel        string `yaml:"channel"`          // consumer channel for workers
	DLQTopic       string `yaml:"dlq_topic"`        // dead letter topic
	PublishDLQ     bool   `yaml:"publish_dlq"`      // publish permanent failures to DLQTopic
	MaxInFlight    int    `yaml:"max_in_flight"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type DB struct {
	User          string `yaml:"user"`
	Pass          string `yaml:"pass,omitempty"`
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	Name          string `yaml:"name"`
	StoreFailures bool   `yaml:"store_failures"` // write permanent failures to Postgres
}

// JWT configures bearer principal resolution. Set PublicKeyPEM for RS256 or
// Secret for HS256.
type JWT struct {
	PublicKeyPEM  string `yaml:"public_key_pem,omitempty"`
	Secret        string `yaml:"secret,omitempty"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	PrincipalType string `yaml:"principal_type"`
}

type Worker struct {
	Concurrency     int    `yaml:"concurrency" validate:"gte=1"`
	HTTPPort        string `yaml:"http_port"`
	MemoryQueueSize int    `yaml:"memory_queue_size" validate:"gte=1"`
}

type Collector struct {
	Port            string `yaml:"port"`
	FailFirstN      int    `yaml:"fail_first_n"`
	FailStatus      int    `yaml:"fail_status"`
	ResponseDelayMS int    `yaml:"response_delay_ms"`
}

type Config struct {
	App       App       `yaml:"app"`
	Delivery  Delivery  `yaml:",inline"`
	Features  Features  `yaml:"features"`
	NSQ       NSQ       `yaml:"nsq"`
	Redis     Redis     `yaml:"redis"`
	DB        DB        `yaml:"db"`
	JWT       JWT       `yaml:"jwt"`
	Worker    Worker    `yaml:"worker"`
	Collector Collector `yaml:"collector"`
}

// DefaultDenylist is the scrub deny-list used when none is configured.
var DefaultDenylist = []string{
	"password",
	"password_confirmation",
	"current_password",
	"token",
	"secret",
	"authorization",
}

// binding maps a config key to its default and the env vars that may set it.
type binding struct {
	key  string
	def  any
	envs []string
}

var bindings = []binding{
	{"app.name", "activitylogger", []string{"APP_NAME"}},
	{"app.env", "production", []string{"APP_ENV"}},
	{"app.url", "http://localhost", []string{"APP_URL"}},

	{"enabled", true, []string{"ACTIVITY_LOGGER_ENABLED"}},
	{"endpoint", "", []string{"ACTIVITY_LOGGER_ENDPOINT"}},
	{"auth.type", AuthToken, []string{"ACTIVITY_LOGGER_AUTH_TYPE"}},
	{"auth.token", "", []string{"ACTIVITY_LOGGER_TOKEN"}},
	{"auth.username", "", []string{"ACTIVITY_LOGGER_BASIC_USERNAME"}},
	{"auth.password", "", []string{"ACTIVITY_LOGGER_BASIC_PASSWORD"}},
	{"auth.headers", map[string]string{}, []string{"ACTIVITY_LOGGER_AUTH_HEADERS"}},
	{"queue.connection", ConnectionMemory, []string{"ACTIVITY_LOGGER_QUEUE_CONNECTION", "QUEUE_CONNECTION"}},
	{"queue.name", "activity-logs", []string{"ACTIVITY_LOGGER_QUEUE"}},
	{"queue.delay", 0, []string{"ACTIVITY_LOGGER_QUEUE_DELAY"}},
	{"http.timeout", 10, []string{"ACTIVITY_LOGGER_HTTP_TIMEOUT"}},
	{"http.verify", true, []string{"ACTIVITY_LOGGER_HTTP_VERIFY"}},
	{"http.retry.attempts", 3, []string{"ACTIVITY_LOGGER_RETRY_ATTEMPTS"}},
	{"http.retry.backoff", 5, []string{"ACTIVITY_LOGGER_RETRY_BACKOFF"}},
	{"http.retry.max_backoff", 60, []string{"ACTIVITY_LOGGER_RETRY_MAX_BACKOFF"}},
	{"http.retry.jitter", true, []string{"ACTIVITY_LOGGER_RETRY_JITTER"}},
	{"scrub.enabled", true, []string{"ACTIVITY_LOGGER_SCRUB_ENABLED"}},
	{"scrub.denylist", DefaultDenylist, []string{"ACTIVITY_LOGGER_SCRUB_DENYLIST"}},

	{"features.log_authentication_events", true, []string{"ACTIVITY_LOGGER_FEATURE_AUTH_EVENTS"}},
	{"features.autoload_middleware", false, []string{"ACTIVITY_LOGGER_FEATURE_LOAD_MIDDLEWARE"}},

	{"nsq.nsqd_tcp_addr", "nsqd:4150", []string{"NSQD_TCP_ADDR"}},
	{"nsq.lookup_http_addr", "nsqlookupd:4161", []string{"NSQ_LOOKUP_HTTP_ADDR"}},
	{"nsq.channel", "workers", []string{"NSQ_WORKER_CHANNEL"}},
	{"nsq.dlq_topic", "activity-logs-dlq", []string{"NSQ_DLQ_TOPIC"}},
	{"nsq.publish_dlq", false, []string{"PUBLISH_DLQ_TOPIC"}},
	{"nsq.max_in_flight", 200, []string{"NSQ_MAX_IN_FLIGHT"}},

	{"redis.addr", "localhost:6379", []string{"REDIS_ADDR"}},
	{"redis.password", "", []string{"REDIS_PASSWORD"}},
	{"redis.db", 0, []string{"REDIS_DB"}},
	{"redis.prefix", "activitylogger", []string{"REDIS_PREFIX"}},

	{"db.user", "postgres", []string{"DB_USER"}},
	{"db.pass", "postgres", []string{"DB_PASS"}},
	{"db.host", "postgres", []string{"DB_HOST"}},
	{"db.port", "5432", []string{"DB_PORT"}},
	{"db.name", "activitylogger", []string{"DB_NAME"}},
	{"db.store_failures", false, []string{"STORE_FAILED_DELIVERIES"}},

	{"jwt.public_key_pem", "", []string{"JWT_PUBLIC_KEY"}},
	{"jwt.secret", "", []string{"JWT_SECRET"}},
	{"jwt.issuer", "", []string{"JWT_ISSUER"}},
	{"jwt.audience", "", []string{"JWT_AUDIENCE"}},
	{"jwt.principal_type", "user", []string{"JWT_PRINCIPAL_TYPE"}},

	{"worker.concurrency", 4, []string{"WORKER_CONCURRENCY"}},
	{"worker.http_port", ":8082", []string{"WORKER_HTTP_PORT"}},
	{"worker.memory_queue_size", 1024, []string{"MEMORY_QUEUE_SIZE"}},

	{"collector.port", ":8081", []string{"COLLECTOR_PORT"}},
	{"collector.fail_first_n", 0, []string{"FAIL_FIRST_N"}},
	{"collector.fail_status", 500, []string{"FAIL_STATUS"}},
	{"collector.response_delay_ms", 0, []string{"RESPONSE_DELAY_MS"}},
}

var validate = validator.New()

// ValidationError lists the config fields that failed validation
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Load reads configuration from defaults, an optional YAML file, a .env file and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
	}
	return fromViper(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		args := append([]string{b.key}, b.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", b.key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("activitylogger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/activitylogger")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		App: App{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			URL:  v.GetString("app.url"),
		},
		Delivery: Delivery{
			Enabled:  v.GetBool("enabled"),
			Endpoint: strings.TrimSpace(v.GetString("endpoint")),
			Auth: Auth{
				Type:     strings.ToLower(v.GetString("auth.type")),
				Token:    v.GetString("auth.token"),
				Username: v.GetString("auth.username"),
				Password: v.GetString("auth.password"),
				Headers:  v.GetStringMapString("auth.headers"),
			},
			Queue: Queue{
				Connection: strings.ToLower(v.GetString("queue.connection")),
				Name:       v.GetString("queue.name"),
				Delay:      v.GetInt("queue.delay"),
			},
			HTTP: HTTP{
				Timeout: v.GetInt("http.timeout"),
				Verify:  v.GetBool("http.verify"),
				Retry: Retry{
					Attempts:   v.GetInt("http.retry.attempts"),
					Backoff:    v.GetInt("http.retry.backoff"),
					MaxBackoff: v.GetInt("http.retry.max_backoff"),
					Jitter:     v.GetBool("http.retry.jitter"),
				},
			},
			Scrub: Scrub{
				Enabled:  v.GetBool("scrub.enabled"),
				Denylist: splitList(v.GetStringSlice("scrub.denylist")),
			},
		},
		Features: Features{
			LogAuthenticationEvents: v.GetBool("features.log_authentication_events"),
			AutoloadMiddleware:      v.GetBool("features.autoload_middleware"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    v.GetString("nsq.nsqd_tcp_addr"),
			LookupHTTPAddr: v.GetString("nsq.lookup_http_addr"),
			Channel:        v.GetString("nsq.channel"),
			DLQTopic:       v.GetString("nsq.dlq_topic"),
			PublishDLQ:     v.GetBool("nsq.publish_dlq"),
			MaxInFlight:    v.GetInt("nsq.max_in_flight"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		DB: DB{
			User:          v.GetString("db.user"),
			Pass:          v.GetString("db.pass"),
			Host:          v.GetString("db.host"),
			Port:          v.GetString("db.port"),
			Name:          v.GetString("db.name"),
			StoreFailures: v.GetBool("db.store_failures"),
		},
		JWT: JWT{
			PublicKeyPEM:  v.GetString("jwt.public_key_pem"),
			Secret:        v.GetString("jwt.secret"),
			Issuer:        v.GetString("jwt.issuer"),
			Audience:      v.GetString("jwt.audience"),
			PrincipalType: v.GetString("jwt.principal_type"),
		},
		Worker: Worker{
			Concurrency:     v.GetInt("worker.concurrency"),
			HTTPPort:        v.GetString("worker.http_port"),
			MemoryQueueSize: v.GetInt("worker.memory_queue_size"),
		},
		Collector: Collector{
			Port:            v.GetString("collector.port"),
			FailFirstN:      v.GetInt("collector.fail_first_n"),
			FailStatus:      v.GetInt("collector.fail_status"),
			ResponseDelayMS: v.GetInt("collector.response_delay_ms"),
		},
	}
}

// splitList flattens comma separated entries, which is how lists arrive from env vars.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks enum and range constraints. Retry bounds are clamped by Normalize, not rejected.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value())
			}
			return &ValidationError{Fields: fields}
		}
		return err
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Normalize clamps the policy to attempts >= 1, backoff >= 1 and max_backoff >= backoff.
func (r Retry) Normalize() Retry {
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	if r.Backoff < 1 {
		r.Backoff = 1
	}
	if r.MaxBackoff < r.Backoff {
		r.MaxBackoff = r.Backoff
	}
	return r
}

func (h HTTP) TimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

func (q Queue) DelayDuration() time.Duration {
	if q.Delay <= 0 {
		return 0
	}
	return time.Duration(q.Delay) * time.Second
}

// Clone returns a deep copy so a job never shares maps or slices with live config.
func (d Delivery) Clone() Delivery {
	out := d
	if d.Auth.Headers != nil {
		out.Auth.Headers = make(map[string]string, len(d.Auth.Headers))
		for k, v := range d.Auth.Headers {
			out.Auth.Headers[k] = v
		}
	}
	if d.Scrub.Denylist != nil {
		out.Scrub.Denylist = append([]string(nil), d.Scrub.Denylist...)
	}
	return out
}

// Redacted returns a copy with credentials masked, for display.
func (d Delivery) Redacted() Delivery {
	out := d.Clone()
	if out.Auth.Token != "" {
		out.Auth.Token = secretMask
	}
	if out.Auth.Password != "" {
		out.Auth.Password = secretMask
	}
	return out
}

// Redacted returns a copy with every credential masked, for display.
func (c Config) Redacted() Config {
	out := c
	out.Delivery = c.Delivery.Redacted()
	if out.Redis.Password != "" {
		out.Redis.Password = secretMask
	}
	if out.DB.Pass != "" {
		out.DB.Pass = secretMask
	}
	if out.JWT.Secret != "" {
		out.JWT.Secret = secretMask
	}
	return out
}
