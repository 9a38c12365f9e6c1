// Package config loads the booth and relay settings from YAML with
// POTBOY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "POTBOY_"

// ServerConfig.Port 0 selects the binary's default port.
type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig is disabled when Endpoint is empty.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"` // e.g. "otel-collector:4317"
	ServiceName string `yaml:"service_name"`
}

type ArchiveConfig struct {
	DataDir        string `yaml:"data_dir"`
	RetentionHours int    `yaml:"retention_hours"`
	PruneSchedule  string `yaml:"prune_schedule"` // cron expression
}

type CameraConfig struct {
	Width          int      `yaml:"width"`
	Height         int      `yaml:"height"`
	FPS            int      `yaml:"fps"`
	Index          int      `yaml:"index"`
	Device         string   `yaml:"device"` // V4L2 node, e.g. /dev/video0
	Pattern        bool     `yaml:"pattern"`
	Command        []string `yaml:"command"`
	StillCommand   []string `yaml:"still_command"`
	StillWidth     int      `yaml:"still_width"`
	StillHeight    int      `yaml:"still_height"`
	StillTimeoutMs int      `yaml:"still_timeout_ms"`
	OpenAttempts   int      `yaml:"open_attempts"`
	OpenDelayMs    int      `yaml:"open_delay_ms"`
}

type PreviewConfig struct {
	ResumeAfterCapture *bool `yaml:"resume_after_capture"`
	ReleaseTimeoutMs   int   `yaml:"release_timeout_ms"`
	ResumeTimeoutMs    int   `yaml:"resume_timeout_ms"`
	FrameMaxAgeMs      int   `yaml:"frame_max_age_ms"`
}

// CaptureConfig times the capture flow. An explicit zero cooldown or
// countdown disables it; only a missing value gets the default.
type CaptureConfig struct {
	CooldownSeconds *int `yaml:"cooldown_seconds"`
	CountdownTicks  *int `yaml:"countdown_ticks"`
	CountdownTickMs int  `yaml:"countdown_tick_ms"`
	TickOnMs        int  `yaml:"tick_on_ms"`
	ShutterBeepMs   int  `yaml:"shutter_beep_ms"`
}

type UplinkConfig struct {
	URL              string `yaml:"url"`
	AttemptTimeoutMs int    `yaml:"attempt_timeout_ms"`
	RetryDelayMs     int    `yaml:"retry_delay_ms"`
	MaxAttempts      int    `yaml:"max_attempts"` // 0 retries forever
	ControlThreshold int    `yaml:"control_threshold"`
}

type IndicatorConfig struct {
	Chip      string `yaml:"chip"`
	LightPin  string `yaml:"light_pin"`
	BuzzerPin string `yaml:"buzzer_pin"`
	SoundDir  string `yaml:"sound_dir"`
}

// PrinterConfig runs Command per receipt. An empty command only logs.
type PrinterConfig struct {
	Command   []string `yaml:"command"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// RelayConfig is only read by the relay.
type RelayConfig struct {
	BoothURL      string `yaml:"booth_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SessionSecret string `yaml:"session_secret"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Camera    CameraConfig    `yaml:"camera"`
	Preview   PreviewConfig   `yaml:"preview"`
	Capture   CaptureConfig   `yaml:"capture"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Printer   PrinterConfig   `yaml:"printer"`
	Relay     RelayConfig     `yaml:"relay"`
}

// Load reads path (optional, "" skips the file), applies environment
// overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Archive.DataDir == "" {
		c.Archive.DataDir = "data"
	}
	if c.Archive.RetentionHours == 0 {
		c.Archive.RetentionHours = 24 * 7
	}
	if c.Archive.PruneSchedule == "" {
		c.Archive.PruneSchedule = "0 * * * *"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Camera.OpenAttempts == 0 {
		c.Camera.OpenAttempts = 3
	}
	if c.Camera.OpenDelayMs == 0 {
		c.Camera.OpenDelayMs = 1000
	}
	if c.Camera.StillTimeoutMs == 0 {
		c.Camera.StillTimeoutMs = 10000
	}
	if c.Preview.ResumeAfterCapture == nil {
		resume := true
		c.Preview.ResumeAfterCapture = &resume
	}
	if c.Preview.ReleaseTimeoutMs == 0 {
		c.Preview.ReleaseTimeoutMs = 5000
	}
	if c.Preview.ResumeTimeoutMs == 0 {
		c.Preview.ResumeTimeoutMs = 10000
	}
	if c.Preview.FrameMaxAgeMs == 0 {
		c.Preview.FrameMaxAgeMs = 2000
	}
	if c.Capture.CooldownSeconds == nil {
		c.Capture.CooldownSeconds = intPtr(5)
	}
	if c.Capture.CountdownTicks == nil {
		c.Capture.CountdownTicks = intPtr(5)
	}
	if c.Capture.CountdownTickMs == 0 {
		c.Capture.CountdownTickMs = 1000
	}
	if c.Capture.TickOnMs == 0 {
		c.Capture.TickOnMs = 100
	}
	if c.Capture.ShutterBeepMs == 0 {
		c.Capture.ShutterBeepMs = 300
	}
	if c.Uplink.AttemptTimeoutMs == 0 {
		c.Uplink.AttemptTimeoutMs = 30000
	}
	if c.Uplink.RetryDelayMs == 0 {
		c.Uplink.RetryDelayMs = 3000
	}
	if c.Uplink.ControlThreshold == 0 {
		c.Uplink.ControlThreshold = 100
	}
	if c.Indicator.Chip == "" {
		c.Indicator.Chip = "gpiochip0"
	}
	if c.Indicator.LightPin == "" {
		c.Indicator.LightPin = "GPIO24"
	}
	if c.Indicator.BuzzerPin == "" {
		c.Indicator.BuzzerPin = "GPIO23"
	}
	if c.Printer.TimeoutMs == 0 {
		c.Printer.TimeoutMs = 30000
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Archive.RetentionHours < 0 {
		errs = append(errs, fmt.Errorf("archive.retention_hours must be >= 0, got %d", c.Archive.RetentionHours))
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 {
		errs = append(errs, errors.New("camera width, height and fps must be positive"))
	}
	if c.Camera.OpenAttempts < 0 {
		errs = append(errs, fmt.Errorf("camera.open_attempts must be >= 0, got %d", c.Camera.OpenAttempts))
	}
	if c.Preview.ReleaseTimeoutMs < 0 || c.Preview.ResumeTimeoutMs < 0 {
		errs = append(errs, errors.New("preview.release_timeout_ms and preview.resume_timeout_ms must be >= 0"))
	}
	if n := c.CooldownSeconds(); n < 0 {
		errs = append(errs, fmt.Errorf("capture.cooldown_seconds must be >= 0, got %d", n))
	}
	if n := c.CountdownTicks(); n < 0 {
		errs = append(errs, fmt.Errorf("capture.countdown_ticks must be >= 0, got %d", n))
	}
	if c.Uplink.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("uplink.max_attempts must be >= 0, got %d", c.Uplink.MaxAttempts))
	}
	if c.Uplink.URL != "" && !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
		errs = append(errs, fmt.Errorf("uplink.url must be a ws:// or wss:// URL, got %q", c.Uplink.URL))
	}
	if (c.Relay.Username == "") != (c.Relay.Password == "") {
		errs = append(errs, errors.New("relay.username and relay.password must be set together"))
	}
	return errors.Join(errs...)
}

// applyEnv overrides fields from POTBOY_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	optNum := func(key string, dst **int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = &n
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.Fields(v)
		}
	}

	num("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	str("DATA_DIR", &c.Archive.DataDir)
	num("RETENTION_HOURS", &c.Archive.RetentionHours)
	str("CAMERA_DEVICE", &c.Camera.Device)
	num("CAMERA_INDEX", &c.Camera.Index)
	boolean("CAMERA_PATTERN", &c.Camera.Pattern)
	list("CAMERA_COMMAND", &c.Camera.Command)
	list("CAMERA_STILL_COMMAND", &c.Camera.StillCommand)
	if v, ok := lookup(envPrefix + "PREVIEW_RESUME_AFTER_CAPTURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPREVIEW_RESUME_AFTER_CAPTURE: %w", envPrefix, err))
		} else {
			c.Preview.ResumeAfterCapture = &b
		}
	}
	optNum("COOLDOWN_SECONDS", &c.Capture.CooldownSeconds)
	optNum("COUNTDOWN_TICKS", &c.Capture.CountdownTicks)
	str("UPLINK_URL", &c.Uplink.URL)
	num("UPLINK_MAX_ATTEMPTS", &c.Uplink.MaxAttempts)
	num("UPLINK_RETRY_DELAY_MS", &c.Uplink.RetryDelayMs)
	str("GPIO_CHIP", &c.Indicator.Chip)
	str("LIGHT_PIN", &c.Indicator.LightPin)
	str("BUZZER_PIN", &c.Indicator.BuzzerPin)
	str("SOUND_DIR", &c.Indicator.SoundDir)
	list("PRINTER_COMMAND", &c.Printer.Command)
	str("BOOTH_URL", &c.Relay.BoothURL)
	str("RELAY_USER", &c.Relay.Username)
	str("RELAY_PASSWORD", &c.Relay.Password)
	str("SESSION_SECRET", &c.Relay.SessionSecret)
	return errors.Join(errs...)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Retention is the archive retention window; zero keeps everything.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Archive.RetentionHours) * time.Hour
}

func intPtr(n int) *int {
	return &n
}

// CooldownSeconds is the configured cooldown; unset means the default.
func (c *Config) CooldownSeconds() int {
	if c.Capture.CooldownSeconds == nil {
		return 5
	}
	return *c.Capture.CooldownSeconds
}

// CountdownTicks is the configured countdown length; unset means the default.
func (c *Config) CountdownTicks() int {
	if c.Capture.CountdownTicks == nil {
		return 5
	}
	return *c.Capture.CountdownTicks
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds()) * time.Second
}

func (c *Config) CountdownTick() time.Duration {
	return ms(c.Capture.CountdownTickMs)
}

func (c *Config) TickOn() time.Duration {
	return ms(c.Capture.TickOnMs)
}

func (c *Config) ShutterBeep() time.Duration {
	return ms(c.Capture.ShutterBeepMs)
}

func (c *Config) FrameMaxAge() time.Duration {
	return ms(c.Preview.FrameMaxAgeMs)
}

func (c *Config) ReleaseTimeout() time.Duration {
	return ms(c.Preview.ReleaseTimeoutMs)
}

func (c *Config) ResumeTimeout() time.Duration {
	return ms(c.Preview.ResumeTimeoutMs)
}

func (c *Config) AttemptTimeout() time.Duration {
	return ms(c.Uplink.AttemptTimeoutMs)
}

func (c *Config) RetryDelay() time.Duration {
	return ms(c.Uplink.RetryDelayMs)
}

func (c *Config) PrintTimeout() time.Duration {
	return ms(c.Printer.TimeoutMs)
}

func (c *Config) OpenDelay() time.Duration {
	return ms(c.Camera.OpenDelayMs)
}

func (c *Config) StillTimeout() time.Duration {
	return ms(c.Camera.StillTimeoutMs)
}

// ResumeAfterCapture reports whether a pre-empted preview restarts after the capture.
func (c *Config) ResumeAfterCapture() bool {
	return c.Preview.ResumeAfterCapture == nil || *c.Preview.ResumeAfterCapture
}

// Addr is the listen address, falling back to defaultPort when no port is set.
func (c *Config) Addr(defaultPort int) string {
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return ":" + strconv.Itoa(port)
}
