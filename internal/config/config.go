// Package config holds the run configuration assembled from defaults, an
// optional YAML file, environment variables and command-line flags, in that
// order of precedence (later wins).
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is everything a migration run needs.
type Config struct {
	AsanaAPIKey        string `yaml:"asana_api_key"`
	AsanaProjectID     int64  `yaml:"asana_project_id"`
	MovedTagID         int64  `yaml:"asana_moved_tag_id"`
	SkipMovedTag       bool   `yaml:"asana_skip_moved_tag"`
	ClubhouseAPIKey    string `yaml:"clubhouse_api_key"`
	ClubhouseProjectID int64  `yaml:"clubhouse_project_id"`
	CompleteWorkflowID int64  `yaml:"clubhouse_complete_workflow_id"`

	Commit                   bool `yaml:"commit"`
	Workers                  int  `yaml:"workers"`
	IgnoreEmailAccountDomain bool `yaml:"ignore_email_account_domain"`
	Verbose                  bool `yaml:"verbose"`

	LedgerDSN string `yaml:"ledger_dsn"`
	QueueURL  string `yaml:"queue_url"`
	QueueRole string `yaml:"queue_role"`
}

// Queue roles for split runs over a broker. Exactly one producer process
// publishes the project's task ids; worker processes consume them.
const (
	QueueRoleProducer = "producer"
	QueueRoleWorker   = "worker"
)

func Default() Config {
	return Config{Workers: 12}
}

// LoadFile merges a YAML config file over c. Unknown keys are rejected so a
// typo in a key name does not silently fall back to a default.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv fills secrets and endpoints from the environment when they were
// not set by the file or flags.
func (c *Config) ApplyEnv() {
	if c.AsanaAPIKey == "" {
		c.AsanaAPIKey = os.Getenv("ASANA_API_KEY")
	}
	if c.ClubhouseAPIKey == "" {
		c.ClubhouseAPIKey = os.Getenv("CLUBHOUSE_API_KEY")
	}
	if c.LedgerDSN == "" {
		c.LedgerDSN = os.Getenv("MIGRATOR_LEDGER_DSN")
	}
	if c.QueueURL == "" {
		c.QueueURL = os.Getenv("MIGRATOR_QUEUE_URL")
	}
}

func (c *Config) Validate() error {
	switch c.QueueRole {
	case "", QueueRoleProducer, QueueRoleWorker:
	default:
		return fmt.Errorf("queue role must be %q or %q, got %q", QueueRoleProducer, QueueRoleWorker, c.QueueRole)
	}
	if c.QueueRole != "" && c.QueueURL == "" {
		return fmt.Errorf("--queue-role needs --queue-url")
	}
	if c.QueueURL != "" && c.QueueRole == "" {
		return fmt.Errorf("--queue-url needs --queue-role %s or %s: a broker queue splits a run across processes, one publishing and the rest working", QueueRoleProducer, QueueRoleWorker)
	}

	switch {
	case c.AsanaAPIKey == "":
		return fmt.Errorf("asana api key is required (flag --asana-api-key or ASANA_API_KEY)")
	case c.AsanaProjectID == 0:
		return fmt.Errorf("asana project id is required")
	}
	// a producer only lists the source project; destination settings belong
	// to the workers
	if c.QueueRole == QueueRoleProducer {
		return nil
	}
	switch {
	case c.ClubhouseAPIKey == "":
		return fmt.Errorf("clubhouse api key is required (flag --clubhouse-api-key or CLUBHOUSE_API_KEY)")
	case c.MovedTagID == 0:
		return fmt.Errorf("asana moved-tag id is required")
	case c.ClubhouseProjectID == 0:
		return fmt.Errorf("clubhouse project id is required")
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
