package config

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const secondsInDay = 86400

// Config is the top-level YAML configuration for the gap locker service.
type Config struct {
	Listen    string            `yaml:"listen"`     // ops HTTP listen address
	Groups    string            `yaml:"groups"`     // account-group mask, e.g. "real\\*,!real\\test*"
	SkipDays  string            `yaml:"skip_days"`  // comma-separated weekday abbreviations
	DebugLogs bool              `yaml:"debug_logs"` // verbose diagnostic logging
	Symbols   map[string]string `yaml:"symbols"`    // symbol -> "HH:MM-HH:MM;POINTS"

	Feed       FeedConfig       `yaml:"feed"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Journal    JournalConfig    `yaml:"journal"`
	Guard      GuardConfig      `yaml:"guard"`
}

// FeedConfig configures the websocket tick feed.
type FeedConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// GatewayConfig configures the trading-server gateway client.
type GatewayConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Timeout time.Duration `yaml:"timeout"`
}

// DispatcherConfig bounds the lock-pipeline worker pool.
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// JournalConfig configures the optional Postgres run journal.
type JournalConfig struct {
	Enabled bool          `yaml:"enabled"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// GuardConfig configures the optional Redis candidate guard.
type GuardConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// Load reads and parses the YAML config file, filling defaults afterwards.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8091"
	}
	if c.Gateway.RPS == 0 {
		c.Gateway.RPS = 10
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 5
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.Dispatcher.Workers == 0 {
		c.Dispatcher.Workers = 4
	}
	if c.Dispatcher.QueueSize == 0 {
		c.Dispatcher.QueueSize = 64
	}
	if c.Journal.Timeout == 0 {
		c.Journal.Timeout = 10 * time.Second
	}
	if c.Guard.TTL == 0 {
		c.Guard.TTL = 24 * time.Hour
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = 30 * time.Second
	}
}

// SymbolWindow is one parsed per-symbol session window. EndOffset may exceed
// 86400 when the window wraps past midnight.
type SymbolWindow struct {
	Symbol      string
	BeginOffset int64 // seconds from midnight
	EndOffset   int64 // seconds from midnight, > 86400 when wrapping
	GapPoints   int64 // threshold in instrument points
}

// ParseSymbolWindows converts the raw per-symbol session strings into parsed
// windows. Malformed entries are skipped with a diagnostic rather than
// failing the whole load.
func (c *Config) ParseSymbolWindows() map[string]SymbolWindow {
	windows := make(map[string]SymbolWindow, len(c.Symbols))
	for symbol, spec := range c.Symbols {
		w, err := ParseSessionWindow(symbol, spec)
		if err != nil {
			log.Warn().Str("symbol", symbol).Str("spec", spec).Err(err).
				Msg("Skipping malformed session window")
			continue
		}
		windows[symbol] = w
	}
	return windows
}

// ParseSessionWindow parses a "HH:MM-HH:MM;POINTS" session string. When the
// end time-of-day is not after the begin time-of-day, the end is treated as
// occurring on the next day.
func ParseSessionWindow(symbol, spec string) (SymbolWindow, error) {
	var w SymbolWindow

	timesPart, pointsPart, ok := strings.Cut(spec, ";")
	if !ok {
		return w, fmt.Errorf("missing point threshold in %q", spec)
	}

	beginPart, endPart, ok := strings.Cut(timesPart, "-")
	if !ok {
		return w, fmt.Errorf("missing session range in %q", spec)
	}

	begin, err := parseTimeOfDay(beginPart)
	if err != nil {
		return w, fmt.Errorf("invalid session begin: %w", err)
	}

	end, err := parseTimeOfDay(endPart)
	if err != nil {
		return w, fmt.Errorf("invalid session end: %w", err)
	}

	points, err := strconv.ParseInt(strings.TrimSpace(pointsPart), 10, 64)
	if err != nil {
		return w, fmt.Errorf("invalid point threshold: %w", err)
	}
	if points <= 0 {
		return w, fmt.Errorf("point threshold must be positive, got %d", points)
	}

	// A window that "ends" at or before its begin crosses midnight.
	if end <= begin {
		end += secondsInDay
	}

	w = SymbolWindow{
		Symbol:      symbol,
		BeginOffset: begin,
		EndOffset:   end,
		GapPoints:   points,
	}
	return w, nil
}

func parseTimeOfDay(s string) (int64, error) {
	hhPart, mmPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}

	hh, err := strconv.Atoi(hhPart)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}

	mm, err := strconv.Atoi(mmPart)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}

	return int64(hh)*3600 + int64(mm)*60, nil
}

var weekdayAbbrev = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseSkipDays parses the comma-separated weekday list. Unknown entries are
// skipped with a diagnostic.
func ParseSkipDays(s string) map[time.Weekday]bool {
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		day, ok := weekdayAbbrev[part]
		if !ok {
			log.Warn().Str("day", part).Msg("Skipping unknown weekday abbreviation")
			continue
		}
		days[day] = true
	}
	return days
}

// GroupMask is a comma-separated list of glob patterns over account groups.
// A pattern prefixed with '!' excludes matching groups; later patterns win.
type GroupMask string

// Match reports whether the given account group passes the mask. An empty
// mask matches every group.
func (m GroupMask) Match(group string) bool {
	if m == "" {
		return true
	}

	matched := false
	for _, pattern := range strings.Split(string(m), ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		negate := strings.HasPrefix(pattern, "!")
		if negate {
			pattern = pattern[1:]
		}

		ok, err := path.Match(pattern, group)
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("Skipping bad group pattern")
			continue
		}
		if ok {
			matched = !negate
		}
	}
	return matched
}
