/*
Package configs is responsible for loading and parsing the application's configuration settings.

Settings come from a YAML configuration file, with a small set of environment
variable overrides (running environment, ports) and sane defaults for local use.
The file layout mirrors the deployed server config: top-level server identity and
port, a structure section for on-disk paths, and a session section covering the
system account, database limits, and announcement templates.
*/
package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StandardPort is the default TCP port for the messenger protocol.
const StandardPort = 49153

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string `yaml:"environment"`
	ServerName  string `yaml:"server_name"`
	Port        int    `yaml:"port"`
	HTTPPort    int    `yaml:"http_port"`

	// Security Settings
	AllowedOrigins []string `yaml:"allowed_origins"`

	// On-disk layout
	Structure StructureConfig `yaml:"structure"`

	// Session engine settings
	Session SessionConfig `yaml:"session"`
}

// StructureConfig describes where the server keeps its persistent files.
type StructureConfig struct {
	DataFolder string `yaml:"data_folder"`
	DB         string `yaml:"db"`
	LogFile    string `yaml:"log_file"`
}

// SessionConfig groups the session manager's business settings.
type SessionConfig struct {
	ServerUser    ServerUserConfig   `yaml:"server_user"`
	Database      DatabaseConfig     `yaml:"database"`
	Announcements AnnouncementConfig `yaml:"announcements"`
}

// ServerUserConfig identifies the reserved system account used for announcements.
type ServerUserConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// DatabaseConfig holds the business-rule limits enforced by the session manager.
type DatabaseConfig struct {
	AllowUserCreation      bool `yaml:"allow_user_creation"`
	MessageCharacterLimit  int  `yaml:"message_character_limit"`
	UsernameCharacterLimit int  `yaml:"username_character_limit"`
	MaxShownMessages       int  `yaml:"max_shown_messages"`
}

// AnnouncementConfig holds the system announcement templates. Each template
// substitutes the username for the "{user}" placeholder.
type AnnouncementConfig struct {
	Join        string `yaml:"join"`
	Leave       string `yaml:"leave"`
	AbruptLeave string `yaml:"abrupt_leave"`
}

// Render substitutes the username into an announcement template.
func Render(template, username string) string {
	return strings.ReplaceAll(template, "{user}", username)
}

// DatabasePath returns the full path of the SQLite database file.
func (c *AppConfig) DatabasePath() string {
	return filepath.Join(c.Structure.DataFolder, c.Structure.DB)
}

// LogFilePath returns the full path of the operational log file, or an empty
// string when file logging is not configured.
func (c *AppConfig) LogFilePath() string {
	if c.Structure.LogFile == "" {
		return ""
	}
	return filepath.Join(c.Structure.DataFolder, c.Structure.LogFile)
}

// defaultConfig returns the built-in settings used when the configuration file
// omits a value. These match the reference deployment defaults.
func defaultConfig() *AppConfig {
	return &AppConfig{
		Environment: "development",
		ServerName:  "Messenger Server",
		Port:        StandardPort,
		HTTPPort:    8080,
		Structure: StructureConfig{
			DataFolder: "data",
			DB:         "messenger.db",
		},
		Session: SessionConfig{
			ServerUser: ServerUserConfig{
				Name:     "server",
				Password: "admin",
			},
			Database: DatabaseConfig{
				AllowUserCreation:      false,
				MessageCharacterLimit:  200,
				UsernameCharacterLimit: 20,
				MaxShownMessages:       200,
			},
			Announcements: AnnouncementConfig{
				Join:        "{user} has joined.",
				Leave:       "{user} has left.",
				AbruptLeave: "{user} left unexpectedly.",
			},
		},
	}
}

// LoadConfig reads the configuration file at path (optional), applies environment
// variable overrides, and validates the result. It returns a pointer to the
// AppConfig struct and any error encountered.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// --- Environment variable overrides ---
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
		}
		cfg.Port = port
	}

	if portStr := os.Getenv("HTTP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_PORT environment variable: %w", err)
		}
		cfg.HTTPPort = port
	}

	if folder := os.Getenv("DATA_FOLDER"); folder != "" {
		cfg.Structure.DataFolder = folder
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate performs sanity checks on the assembled configuration.
func (c *AppConfig) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	if c.HTTPPort != 0 && (c.HTTPPort < 1024 || c.HTTPPort > 65535) {
		return fmt.Errorf("http port number %d is outside the recommended range (%d-%d)", c.HTTPPort, 1024, 65535)
	}

	if c.ServerName == "" {
		return fmt.Errorf("server_name must not be empty")
	}

	if c.Session.ServerUser.Name == "" || c.Session.ServerUser.Password == "" {
		return fmt.Errorf("session.server_user requires both name and password")
	}

	db := c.Session.Database
	if db.MessageCharacterLimit <= 0 || db.UsernameCharacterLimit <= 0 || db.MaxShownMessages <= 0 {
		return fmt.Errorf("session.database limits must all be positive")
	}

	if len(c.Session.ServerUser.Name) > db.UsernameCharacterLimit {
		return fmt.Errorf("session.server_user name exceeds the username character limit (%d)", db.UsernameCharacterLimit)
	}

	for _, tmpl := range []string{c.Session.Announcements.Join, c.Session.Announcements.Leave, c.Session.Announcements.AbruptLeave} {
		if !strings.Contains(tmpl, "{user}") {
			return fmt.Errorf("announcement template %q is missing the {user} placeholder", tmpl)
		}
	}

	return nil
}
