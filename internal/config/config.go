package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"processline/internal/domain"
)

const (
	DefaultRetentionDays  = 15
	DefaultSweepSchedule  = "0 0 3 * * *"
	defaultNotifyTimeout  = 5
	defaultPrivilegedRole = "ADMIN"
	defaultManagerRole    = "MANAGER"
)

// Config models processline.yml.
type Config struct {
	Engine struct {
		RetentionDays   int      `yaml:"retention_days"`
		PrivilegedRoles []string `yaml:"privileged_roles"`
		ManagerRoles    []string `yaml:"manager_roles"`
	} `yaml:"engine"`
	Directory struct {
		Departments []domain.Department `yaml:"departments"`
		Users       []domain.User       `yaml:"users"`
		Companies   []domain.Company    `yaml:"companies"`
	} `yaml:"directory"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Sweeper       struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"sweeper"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

type NotificationsConfig struct {
	Log            bool            `yaml:"log"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	Webhooks       []WebhookConfig `yaml:"webhooks"`
	Kafka          KafkaConfig     `yaml:"kafka"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or Default when no file exists.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate fills defaults and checks the directory for consistency.
func (c *Config) Validate() error {
	if c.Engine.RetentionDays < 0 {
		return fmt.Errorf("engine.retention_days must not be negative")
	}
	if c.Engine.RetentionDays == 0 {
		c.Engine.RetentionDays = DefaultRetentionDays
	}
	if len(c.Engine.PrivilegedRoles) == 0 {
		c.Engine.PrivilegedRoles = []string{defaultPrivilegedRole}
	}
	if len(c.Engine.ManagerRoles) == 0 {
		c.Engine.ManagerRoles = []string{defaultManagerRole}
	}
	if c.Notifications.TimeoutSeconds <= 0 {
		c.Notifications.TimeoutSeconds = defaultNotifyTimeout
	}
	depts := make(map[string]struct{}, len(c.Directory.Departments))
	for _, d := range c.Directory.Departments {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("directory.departments contains empty id")
		}
		if _, dup := depts[d.ID]; dup {
			return fmt.Errorf("department %s declared twice", d.ID)
		}
		depts[d.ID] = struct{}{}
	}
	for _, u := range c.Directory.Users {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Role) == "" {
			return fmt.Errorf("directory.users entries need id and role")
		}
		if u.DepartmentID != "" {
			if _, ok := depts[u.DepartmentID]; !ok {
				return fmt.Errorf("user %s references unknown department %s", u.ID, u.DepartmentID)
			}
		}
	}
	for _, co := range c.Directory.Companies {
		if strings.TrimSpace(co.ID) == "" {
			return fmt.Errorf("directory.companies contains empty id")
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
	}
	if len(c.Notifications.Kafka.Brokers) > 0 && c.Notifications.Kafka.Topic == "" {
		return fmt.Errorf("notifications.kafka.topic is required when brokers are set")
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = DefaultSweepSchedule
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Sweeper.Schedule); err != nil {
		return fmt.Errorf("sweeper.schedule: %w", err)
	}
	return nil
}

// Retention is how long a trash item stays restorable.
func (c *Config) Retention() time.Duration {
	days := c.Engine.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *Config) NotifyTimeout() time.Duration {
	if c.Notifications.TimeoutSeconds <= 0 {
		return defaultNotifyTimeout * time.Second
	}
	return time.Duration(c.Notifications.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "processline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  retention_days: 15
  privileged_roles: [ADMIN]
  manager_roles: [MANAGER]

directory:
  departments:
    - id: sales
      name: Sales
    - id: finance
      name: Finance
      required_documents: [Invoice]
    - id: legal
      name: Legal
  users:
    - id: admin
      name: Administrator
      role: ADMIN

notifications:
  log: true
  timeout_seconds: 5

sweeper:
  enabled: false
  schedule: "0 0 3 * * *"

log:
  level: info
`
