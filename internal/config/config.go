// Package config loads the YAML configuration of the server and the
// participant agent. Secrets and deployment paths can be overridden from
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/models"
	"github.com/soaringjerry/FlashTrack/internal/utils"
)

// Environment variables
const (
	EnvConfigFile     = "FLASHTRACK_CONFIG_FILE"
	EnvAddr           = "FLASHTRACK_ADDR"
	EnvSQLitePath     = "FLASHTRACK_SQLITE_PATH"
	EnvMigrationsDir  = "FLASHTRACK_MIGRATIONS_DIR"
	EnvAPISecret      = "FLASHTRACK_API_SECRET"
	EnvAccessCodeHash = "FLASHTRACK_ACCESS_CODE_HASH"
	EnvStudyDays      = "FLASHTRACK_STUDY_DAYS"
	EnvCommit         = "FLASHTRACK_COMMIT"
	EnvBuildTime      = "FLASHTRACK_BUILD_TIME"

	EnvServerURL = "FLASHTRACK_SERVER_URL"
	EnvAPIKey    = "FLASHTRACK_API_KEY"
	EnvStatePath = "FLASHTRACK_STATE_PATH"
	EnvLocale    = "FLASHTRACK_LOCALE"
)

type SeedSegment struct {
	ID     int    `yaml:"id"`
	Name   string `yaml:"name"`
	Time   string `yaml:"time"`
	Active bool   `yaml:"active"`
}

type SeedQuestion struct {
	ID     int    `yaml:"id"`
	Text   string `yaml:"text"`
	Active bool   `yaml:"active"`
}

// SeedRating is an end-of-study question; No orders the questionnaire.
type SeedRating struct {
	ID     int    `yaml:"id"`
	No     int    `yaml:"no"`
	Text   string `yaml:"text"`
	Active bool   `yaml:"active"`
}

// Seed is written to an empty store on first start.
type Seed struct {
	TimeSegments []SeedSegment  `yaml:"time_segments"`
	Questions    []SeedQuestion `yaml:"questions"`
	EndOfStudy   []SeedRating   `yaml:"end_of_study_questions"`
}

type ServerConfig struct {
	Logging utils.LoggerConfig `yaml:"logging"`

	Addr string `yaml:"addr"`
	// SQLitePath selects the SQLite store; empty keeps everything in memory.
	SQLitePath     string `yaml:"sqlite_path"`
	MigrationsDir  string `yaml:"migrations_dir"`
	APISecret      string `yaml:"api_secret"`
	AccessCodeHash string `yaml:"access_code_hash"`
	StudyDays      int    `yaml:"study_days"`
	Seed           Seed   `yaml:"seed"`
	// CORSOrigins lists the web origins allowed to call the API; empty allows any.
	CORSOrigins []string `yaml:"cors_origins"`

	Commit    string `yaml:"-"`
	BuildTime string `yaml:"-"`
}

type AgentConfig struct {
	Logging utils.LoggerConfig `yaml:"logging"`

	ServerURL string `yaml:"server_url"`
	APIKey    string `yaml:"api_key"`
	StatePath string `yaml:"state_path"`
	Locale    string `yaml:"locale"`
	StudyDays int    `yaml:"study_days"`
	// Timeout bounds each request to the server, e.g. "10s".
	Timeout string `yaml:"timeout"`
	Retries int    `yaml:"retries"`
	// PollInterval is how often due reminders are checked by `run`.
	PollInterval string `yaml:"poll_interval"`
	// NotificationPermission is the answer given when permission is first requested.
	NotificationPermission string `yaml:"notification_permission"`
}

func readYAML(path string, out any) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(b, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// DefaultSeed is the three-window catalog written on first start.
func DefaultSeed() Seed {
	return Seed{
		TimeSegments: []SeedSegment{
			{ID: 1, Name: "Morning", Time: "07:00:00", Active: true},
			{ID: 2, Name: "Afternoon", Time: "13:00:00", Active: true},
			{ID: 3, Name: "Evening", Time: "19:00:00", Active: true},
		},
		Questions: []SeedQuestion{
			{ID: 1, Text: "How many flashbacks did you experience since your last check-in?", Active: true},
			{ID: 2, Text: "How many of them were about the film you watched?", Active: true},
			{ID: 3, Text: "How many times did you deliberately think about the film?", Active: true},
		},
		EndOfStudy: []SeedRating{
			{ID: 1, No: 1, Text: "How vivid were your flashbacks of the film overall?", Active: true},
			{ID: 2, No: 2, Text: "How distressing were your flashbacks of the film overall?", Active: true},
			{ID: 3, No: 3, Text: "How accurately do you think you recorded your flashbacks?", Active: true},
		},
	}
}

// LoadServer reads path (optional) and applies defaults and env overrides.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.Addr = utils.SafeEnv(EnvAddr, cfg.Addr)
	cfg.SQLitePath = utils.SafeEnv(EnvSQLitePath, cfg.SQLitePath)
	cfg.MigrationsDir = utils.SafeEnv(EnvMigrationsDir, cfg.MigrationsDir)
	cfg.APISecret = utils.SafeEnv(EnvAPISecret, cfg.APISecret)
	cfg.AccessCodeHash = utils.SafeEnv(EnvAccessCodeHash, cfg.AccessCodeHash)
	cfg.StudyDays = utils.SafeEnvInt(EnvStudyDays, cfg.StudyDays)
	cfg.Commit = utils.SafeEnv(EnvCommit, "")
	cfg.BuildTime = utils.SafeEnv(EnvBuildTime, "")

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.StudyDays == 0 {
		cfg.StudyDays = checkin.DefaultStudyDays
	}
	if len(cfg.Seed.TimeSegments) == 0 && len(cfg.Seed.Questions) == 0 && len(cfg.Seed.EndOfStudy) == 0 {
		cfg.Seed = DefaultSeed()
	}
	return cfg, cfg.Validate()
}

func (c *ServerConfig) Validate() error {
	var errs []error
	if c.APISecret == "" {
		errs = append(errs, errors.New("api_secret is required"))
	}
	if c.StudyDays < 1 {
		errs = append(errs, fmt.Errorf("study_days must be positive, got %d", c.StudyDays))
	}
	if _, err := c.Seed.Catalog(); err != nil {
		errs = append(errs, fmt.Errorf("seed: %w", err))
	}
	return errors.Join(errs...)
}

// Segments converts the seed into store rows.
func (s Seed) Segments() []models.TimeSegment {
	out := make([]models.TimeSegment, 0, len(s.TimeSegments))
	for _, seg := range s.TimeSegments {
		out = append(out, models.TimeSegment{ID: seg.ID, Name: seg.Name, Time: seg.Time, IsActive: seg.Active})
	}
	return out
}

func (s Seed) QuestionRows() []models.Question {
	out := make([]models.Question, 0, len(s.Questions))
	for _, q := range s.Questions {
		out = append(out, models.Question{ID: q.ID, Text: q.Text, IsActive: q.Active})
	}
	return out
}

func (s Seed) EndOfStudyRows() []models.EndOfStudyQuestion {
	out := make([]models.EndOfStudyQuestion, 0, len(s.EndOfStudy))
	for _, q := range s.EndOfStudy {
		out = append(out, models.EndOfStudyQuestion{ID: q.ID, Number: q.No, Text: q.Text, IsActive: q.Active})
	}
	return out
}

// Catalog validates the seeded windows the same way the engine will.
func (s Seed) Catalog() (*checkin.Catalog, error) {
	return models.Catalog(s.Segments())
}

// LoadAgent reads path (optional) and applies defaults and env overrides.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.ServerURL = utils.SafeEnv(EnvServerURL, cfg.ServerURL)
	cfg.APIKey = utils.SafeEnv(EnvAPIKey, cfg.APIKey)
	cfg.StatePath = utils.SafeEnv(EnvStatePath, cfg.StatePath)
	cfg.Locale = utils.SafeEnv(EnvLocale, cfg.Locale)

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	if cfg.StatePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		cfg.StatePath = dir + string(os.PathSeparator) + "flashtrack" + string(os.PathSeparator) + "state.db"
	}
	if cfg.Locale == "" {
		cfg.Locale = utils.LocaleFromPOSIX(os.Getenv("LANG"), utils.SupportedLocales, "en")
	}
	if cfg.StudyDays == 0 {
		cfg.StudyDays = checkin.DefaultStudyDays
	}
	if cfg.Retries == 0 {
		cfg.Retries = 1
	}
	if cfg.NotificationPermission == "" {
		cfg.NotificationPermission = "granted"
	}
	return cfg, cfg.Validate()
}

func (c *AgentConfig) Validate() error {
	var errs []error
	if c.StudyDays < 1 {
		errs = append(errs, fmt.Errorf("study_days must be positive, got %d", c.StudyDays))
	}
	if c.Retries < 0 || c.Retries > 1 {
		errs = append(errs, fmt.Errorf("retries must be 0 or 1, got %d", c.Retries))
	}
	if _, err := c.RequestTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Poll(); err != nil {
		errs = append(errs, err)
	}
	if c.NotificationPermission != "granted" && c.NotificationPermission != "denied" {
		errs = append(errs, fmt.Errorf("notification_permission must be granted or denied, got %q", c.NotificationPermission))
	}
	return errors.Join(errs...)
}

func (c *AgentConfig) RequestTimeout() (time.Duration, error) {
	return utils.ParseDurationString(c.Timeout, 10*time.Second)
}

func (c *AgentConfig) Poll() (time.Duration, error) {
	return utils.ParseDurationString(c.PollInterval, 30*time.Second)
}
