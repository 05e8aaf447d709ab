package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

// JournalDisabled as JOURNAL_PATH turns the update journal off.
const JournalDisabled = "none"

// DB holds PostgreSQL connection settings.
type DB struct {
	Host    string
	Port    int
	User    string
	Pass    string
	Name    string
	SSLMode string
}

// ConnInfo returns a libpq key/value connection string.
func (d DB) ConnInfo() string {
	pairs := []struct{ k, v string }{
		{"host", d.Host},
		{"port", strconv.Itoa(d.Port)},
		{"user", d.User},
		{"password", d.Pass},
		{"dbname", d.Name},
		{"sslmode", d.SSLMode},
	}
	var parts []string
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		parts = append(parts, p.k+"="+quoteConnValue(p.v))
	}
	return strings.Join(parts, " ")
}

// Redacted returns ConnInfo with the password masked.
func (d DB) Redacted() string {
	if d.Pass != "" {
		d.Pass = "xxxxx"
	}
	return d.ConnInfo()
}

func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Env is the service environment.
type Env struct {
	DB DB

	// OutputPath is the directory holding dataset archives.
	OutputPath string

	// TmpPath is the directory for temp artifacts.
	TmpPath string

	// TasksFile is the tasks file location.
	TasksFile string

	// JournalPath is the SQLite journal location; empty when disabled.
	JournalPath string

	// KillImage and KillSignal name the reload target.
	KillImage  string
	KillSignal string

	// TriggerAtStartup enables the startup bulk rebuild.
	TriggerAtStartup bool

	// MetricsAddr is the metrics listen address; empty when disabled.
	MetricsAddr string

	ListenReconnectMin time.Duration
	ListenReconnectMax time.Duration
	NotifyTimeout      time.Duration

	Ogr2ogrBin    string
	TippecanoeBin string
	TileJoinBin   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("TMP_PATH", os.TempDir())
	v.SetDefault("TASKS_FILE", "./tasks.yml")
	v.SetDefault("TRIGGER_AT_STARTUP", "yes")
	v.SetDefault("LISTEN_RECONNECT_MIN", "10s")
	v.SetDefault("LISTEN_RECONNECT_MAX", "1m")
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("OGR2OGR_BIN", "ogr2ogr")
	v.SetDefault("TIPPECANOE_BIN", "tippecanoe")
	v.SetDefault("TILE_JOIN_BIN", "tile-join")
}

// LoadEnv reads envFile (if it exists) and the process environment, which
// takes precedence. An explicitly named envFile that does not exist is an
// error; the default one is optional.
func LoadEnv(envFile string) (*Env, error) {
	v := viper.New()
	setDefaults(v)

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if err := readEnvFile(v, envFile, explicit); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func readEnvFile(v *viper.Viper, path string, required bool) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	if info.IsDir() {
		return &Error{Key: "env file", Message: fmt.Sprintf("%s is a directory", path)}
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading env file '%s': %w", path, err)
	}
	return nil
}

func fromViper(v *viper.Viper) (*Env, error) {
	e := &Env{
		DB: DB{
			Host:    v.GetString("DB_HOST"),
			User:    v.GetString("DB_USER"),
			Pass:    v.GetString("DB_PASS"),
			Name:    v.GetString("DB_NAME"),
			SSLMode: v.GetString("DB_SSLMODE"),
		},
		OutputPath:    v.GetString("OUTPUT_PATH"),
		TmpPath:       v.GetString("TMP_PATH"),
		TasksFile:     v.GetString("TASKS_FILE"),
		KillImage:     v.GetString("KILL_IMAGE_NAME"),
		KillSignal:    v.GetString("KILL_SIGNAL"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		Ogr2ogrBin:    v.GetString("OGR2OGR_BIN"),
		TippecanoeBin: v.GetString("TIPPECANOE_BIN"),
		TileJoinBin:   v.GetString("TILE_JOIN_BIN"),
	}

	port, err := strconv.Atoi(v.GetString("DB_PORT"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, &Error{Key: "DB_PORT", Message: fmt.Sprintf("invalid port %q", v.GetString("DB_PORT"))}
	}
	e.DB.Port = port

	if e.TriggerAtStartup, err = parseYesNo("TRIGGER_AT_STARTUP", v.GetString("TRIGGER_AT_STARTUP")); err != nil {
		return nil, err
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"LISTEN_RECONNECT_MIN", &e.ListenReconnectMin},
		{"LISTEN_RECONNECT_MAX", &e.ListenReconnectMax},
		{"NOTIFY_TIMEOUT", &e.NotifyTimeout},
	} {
		if *d.dst, err = parseDuration(d.key, v.GetString(d.key)); err != nil {
			return nil, err
		}
	}
	if e.ListenReconnectMax < e.ListenReconnectMin {
		return nil, &Error{Key: "LISTEN_RECONNECT_MAX", Message: "must not be less than LISTEN_RECONNECT_MIN"}
	}

	if err := checkDir("OUTPUT_PATH", e.OutputPath); err != nil {
		return nil, err
	}
	if e.TmpPath == "" {
		return nil, &Error{Key: "TMP_PATH", Message: "must not be empty"}
	}

	switch journal := v.GetString("JOURNAL_PATH"); journal {
	case "":
		e.JournalPath = filepath.Join(e.OutputPath, ".tilesync.db")
	case JournalDisabled:
		e.JournalPath = ""
	default:
		e.JournalPath = journal
	}

	return e, nil
}

func parseYesNo(key, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, &Error{Key: key, Message: fmt.Sprintf("expected yes or no, got %q", value)}
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		return 0, &Error{Key: key, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}

func checkDir(key, path string) error {
	if path == "" {
		return &Error{Key: key, Message: "must be set"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Key: key, Message: err.Error()}
	}
	if !info.IsDir() {
		return &Error{Key: key, Message: fmt.Sprintf("%s is not a directory", path)}
	}
	return nil
}
