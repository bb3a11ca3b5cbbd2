// Package config loads the system configuration from a YAML file with
// environment variable overrides (NEWAY_<SECTION>_<KEY>).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Audio       AudioConfig       `yaml:"audio"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

type CameraConfig struct {
	URL                  string   `yaml:"url"`                    // primary MJPEG stream URL
	FallbackIndex        int      `yaml:"fallback_index"`         // index into FallbackSources
	FallbackSources      []string `yaml:"fallback_sources"`       // local directories with image sequences
	ReconnectInterval    float64  `yaml:"reconnect_interval"`     // base backoff interval, seconds
	ReconnectMaxDelay    float64  `yaml:"reconnect_max_delay"`    // backoff cap, seconds
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"` // 0 = unlimited
	FrameWidth           int      `yaml:"frame_width"`
	FrameHeight          int      `yaml:"frame_height"`
	FPSLimit             float64  `yaml:"fps_limit"`
}

// BackoffBase returns the base reconnect interval as a duration.
func (c CameraConfig) BackoffBase() time.Duration {
	return time.Duration(c.ReconnectInterval * float64(time.Second))
}

// BackoffCap returns the maximum reconnect delay as a duration.
func (c CameraConfig) BackoffCap() time.Duration {
	return time.Duration(c.ReconnectMaxDelay * float64(time.Second))
}

type RecognitionConfig struct {
	EngineURL          string  `yaml:"engine_url"` // face detection/embedding server
	Method             string  `yaml:"method"`     // detection method hint (hog, cnn)
	Tolerance          float64 `yaml:"tolerance"`  // match distance threshold
	MinFaceSize        float64 `yaml:"min_face_size"`
	DownscaleFactor    int     `yaml:"downscale_factor"`
	UnknownLabel       string  `yaml:"unknown_face_label"`
	LogUnknown         bool    `yaml:"log_unknown_faces"`
	FacesDir           string  `yaml:"faces_dir"`
	WatchInterval      int     `yaml:"watch_interval"`      // seconds
	RecognitionTimeout float64 `yaml:"recognition_timeout"` // hours; dedup window for attendance events
}

// Watch returns the template watch polling interval.
func (c RecognitionConfig) Watch() time.Duration {
	return time.Duration(c.WatchInterval) * time.Second
}

// DedupWindow returns the attendance dedup window as a duration.
func (c RecognitionConfig) DedupWindow() time.Duration {
	return time.Duration(c.RecognitionTimeout * float64(time.Hour))
}

type AttendanceConfig struct {
	Backend     string      `yaml:"backend"` // "csv" or "sheet"
	LogsDir     string      `yaml:"logs_dir"`
	FilePattern string      `yaml:"file_pattern"` // time layout for monthly files
	Sheet       SheetConfig `yaml:"sheet"`
}

type SheetConfig struct {
	URL       string `yaml:"url"`        // remote tabular service base URL
	SheetID   string `yaml:"sheet_id"`   // spreadsheet identifier
	SheetName string `yaml:"sheet_name"` // tab name
	Token     string `yaml:"token"`      // API token
}

type AudioConfig struct {
	SynthURL        string `yaml:"synth_url"` // TTS service base URL
	Language        string `yaml:"language"`
	Player          string `yaml:"player"` // audio player command
	WelcomeMessage  string `yaml:"welcome_message"`
	GoodbyeMessage  string `yaml:"goodbye_message"`
	UnknownMessage  string `yaml:"unknown_message"`
	GreetingTimeout int    `yaml:"greeting_timeout"` // seconds
}

// GreetingWindow returns the anti-spam greeting window as a duration.
func (c AudioConfig) GreetingWindow() time.Duration {
	return time.Duration(c.GreetingTimeout) * time.Second
}

type DashboardConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	EnableAuth     bool   `yaml:"enable_authentication"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SessionSecret  string `yaml:"session_secret"`
	SessionTimeout int    `yaml:"session_timeout"` // minutes
}

// SessionWindow returns the dashboard session timeout as a duration.
func (c DashboardConfig) SessionWindow() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Minute
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML configuration file at path, applies NEWAY_* environment
// overrides and fills in defaults for any unset value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	cam := &c.Camera
	if cam.ReconnectInterval <= 0 {
		cam.ReconnectInterval = 5
	}
	if cam.ReconnectMaxDelay <= 0 {
		cam.ReconnectMaxDelay = 30
	}
	if cam.MaxReconnectAttempts < 0 {
		cam.MaxReconnectAttempts = 0
	}
	if cam.FrameWidth <= 0 {
		cam.FrameWidth = 640
	}
	if cam.FrameHeight <= 0 {
		cam.FrameHeight = 480
	}
	if cam.FPSLimit <= 0 {
		cam.FPSLimit = 15
	}

	rec := &c.Recognition
	if rec.EngineURL == "" {
		rec.EngineURL = "http://localhost:8000"
	}
	if rec.Method == "" {
		rec.Method = "hog"
	}
	if rec.Tolerance <= 0 {
		rec.Tolerance = 0.6
	}
	if rec.MinFaceSize <= 0 {
		rec.MinFaceSize = 0.05
	}
	if rec.DownscaleFactor <= 0 {
		rec.DownscaleFactor = 2
	}
	if rec.UnknownLabel == "" {
		rec.UnknownLabel = "Unknown"
	}
	if rec.FacesDir == "" {
		rec.FacesDir = "faces"
	}
	if rec.WatchInterval <= 0 {
		rec.WatchInterval = 30
	}
	if rec.RecognitionTimeout <= 0 {
		rec.RecognitionTimeout = 8
	}

	att := &c.Attendance
	if att.Backend == "" {
		att.Backend = "csv"
	}
	if att.LogsDir == "" {
		att.LogsDir = "logs"
	}
	if att.FilePattern == "" {
		att.FilePattern = "2006-01.csv"
	}
	if att.Sheet.SheetName == "" {
		att.Sheet.SheetName = "Attendance"
	}

	audio := &c.Audio
	if audio.SynthURL == "" {
		audio.SynthURL = "http://localhost:5002"
	}
	if audio.Language == "" {
		audio.Language = "en"
	}
	if audio.Player == "" {
		audio.Player = "mpg123 -q"
	}
	if audio.WelcomeMessage == "" {
		audio.WelcomeMessage = "Hi {name}, welcome to work"
	}
	if audio.GoodbyeMessage == "" {
		audio.GoodbyeMessage = "Goodbye {name}, see you tomorrow"
	}
	if audio.GreetingTimeout <= 0 {
		audio.GreetingTimeout = 60
	}

	dash := &c.Dashboard
	if dash.Host == "" {
		dash.Host = "0.0.0.0"
	}
	if dash.Port <= 0 {
		dash.Port = 5000
	}
	if dash.Username == "" {
		dash.Username = "admin"
	}
	if dash.SessionTimeout <= 0 {
		dash.SessionTimeout = 60
	}
}

// applyEnv overrides configuration values from NEWAY_<SECTION>_<KEY>
// environment variables, e.g. NEWAY_CAMERA_URL or NEWAY_DASHBOARD_PORT.
func (c *Config) applyEnv() {
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(key, "NEWAY_") {
			continue
		}
		section, sub, ok := strings.Cut(strings.TrimPrefix(key, "NEWAY_"), "_")
		if !ok {
			continue
		}
		c.set(strings.ToLower(section), strings.ToLower(sub), value)
	}
}

func (c *Config) set(section, key, value string) {
	switch section {
	case "camera":
		switch key {
		case "url":
			c.Camera.URL = value
		case "fallback_index":
			c.Camera.FallbackIndex = envInt(value, c.Camera.FallbackIndex)
		case "reconnect_interval":
			c.Camera.ReconnectInterval = envFloat(value, c.Camera.ReconnectInterval)
		case "reconnect_max_delay":
			c.Camera.ReconnectMaxDelay = envFloat(value, c.Camera.ReconnectMaxDelay)
		case "max_reconnect_attempts":
			c.Camera.MaxReconnectAttempts = envInt(value, c.Camera.MaxReconnectAttempts)
		case "frame_width":
			c.Camera.FrameWidth = envInt(value, c.Camera.FrameWidth)
		case "frame_height":
			c.Camera.FrameHeight = envInt(value, c.Camera.FrameHeight)
		case "fps_limit":
			c.Camera.FPSLimit = envFloat(value, c.Camera.FPSLimit)
		}
	case "recognition":
		switch key {
		case "engine_url":
			c.Recognition.EngineURL = value
		case "method":
			c.Recognition.Method = value
		case "tolerance":
			c.Recognition.Tolerance = envFloat(value, c.Recognition.Tolerance)
		case "faces_dir":
			c.Recognition.FacesDir = value
		case "recognition_timeout":
			c.Recognition.RecognitionTimeout = envFloat(value, c.Recognition.RecognitionTimeout)
		}
	case "attendance":
		switch key {
		case "backend":
			c.Attendance.Backend = value
		case "logs_dir":
			c.Attendance.LogsDir = value
		case "sheet_url":
			c.Attendance.Sheet.URL = value
		case "sheet_id":
			c.Attendance.Sheet.SheetID = value
		case "sheet_token":
			c.Attendance.Sheet.Token = value
		}
	case "audio":
		switch key {
		case "synth_url":
			c.Audio.SynthURL = value
		case "player":
			c.Audio.Player = value
		case "greeting_timeout":
			c.Audio.GreetingTimeout = envInt(value, c.Audio.GreetingTimeout)
		}
	case "dashboard":
		switch key {
		case "host":
			c.Dashboard.Host = value
		case "port":
			c.Dashboard.Port = envInt(value, c.Dashboard.Port)
		case "enable_authentication":
			c.Dashboard.EnableAuth = value == "true" || value == "1"
		case "username":
			c.Dashboard.Username = value
		case "password":
			c.Dashboard.Password = value
		case "session_secret":
			c.Dashboard.SessionSecret = value
		}
	}
}

func envInt(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func envFloat(s string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}
