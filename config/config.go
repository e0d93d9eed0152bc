package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	// DefaultConfigFile is the default path to the compellent config
	DefaultConfigFile = "/etc/compellent/config.toml"

	// DefaultDBFile is the default location for the local state DB.
	DefaultDBFile = "/etc/compellent/compellent.db"

	// DefaultDSMPort is the port the Data Collector REST API
	// listens on.
	DefaultDSMPort = 3033

	// DefaultAPIVersion is the x-dell-api-version header value sent
	// with every request, unless overridden in the config.
	DefaultAPIVersion = "4.1"

	// DefaultRequestTimeout is the per request timeout for calls to
	// the Data Collector.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSSHPort is the port used for SSH connections to
	// managed hosts.
	DefaultSSHPort = 22
)

// ParseConfig parses the file passed in as cfgFile and returns
// a *Config object.
func ParseConfig(cfgFile string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(cfgFile, &config); err != nil {
		return nil, errors.Wrap(err, "decoding toml")
	}

	if config.DBFile == "" {
		config.DBFile = DefaultDBFile
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &config, nil
}

// Config is the compellent toolkit config
type Config struct {
	// DBFile is the path on disk to the local state database. It
	// holds stored credentials and the refresh journal.
	DBFile string `toml:"db_file"`

	// LogFile is the location of the log file
	LogFile string `toml:"log_file"`

	// DSM holds the Data Collector connection settings.
	DSM DSM `toml:"dsm"`

	// SSH holds settings for SSH connections to managed hosts.
	SSH SSH `toml:"ssh"`

	// SearchDomains is a list of DNS domains used to fully qualify
	// short hostnames passed on the command line.
	SearchDomains []string `toml:"search_domains"`

	// PreCommand is an optional shell command executed before any
	// command that talks to the Data Collector.
	PreCommand string `toml:"pre_command"`

	// PostCommand is an optional shell command executed after any
	// command that talks to the Data Collector.
	PostCommand string `toml:"post_command"`
}

// Validate validates the config options
func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("missing db_file")
	}

	if err := c.DSM.Validate(); err != nil {
		return errors.Wrap(err, "validating dsm section")
	}

	if err := c.SSH.Validate(); err != nil {
		return errors.Wrap(err, "validating ssh section")
	}

	for _, domain := range c.SearchDomains {
		if strings.TrimSpace(domain) == "" {
			return fmt.Errorf("empty entry in search_domains")
		}
	}
	return nil
}

// DSM holds connection settings for the Dell Storage Manager
// Data Collector.
type DSM struct {
	// Host is the hostname or IP address of the Data Collector.
	Host string `toml:"host"`
	// Port is the REST API port of the Data Collector.
	Port int `toml:"port"`
	// User is the Data Collector user.
	User string `toml:"user"`
	// APIVersion is sent as the x-dell-api-version header.
	APIVersion string `toml:"api_version"`
	// StorageCenter is the serial number of the Storage Center
	// instance we operate on. Bare object IDs are qualified with
	// this prefix.
	StorageCenter string `toml:"storage_center"`
	// Insecure disables TLS certificate verification.
	Insecure bool `toml:"insecure"`
	// TimeoutSeconds is the per request timeout. Defaults to
	// DefaultRequestTimeout when unset.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// BaseURL returns the REST API base URL of the Data Collector.
func (d *DSM) BaseURL() string {
	port := d.Port
	if port == 0 {
		port = DefaultDSMPort
	}
	return fmt.Sprintf("https://%s:%d/api/rest", d.Host, port)
}

// Timeout returns the configured request timeout.
func (d *DSM) Timeout() time.Duration {
	if d.TimeoutSeconds == 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Version returns the configured API version.
func (d *DSM) Version() string {
	if d.APIVersion == "" {
		return DefaultAPIVersion
	}
	return d.APIVersion
}

// Validate validates the DSM config
func (d *DSM) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("missing host")
	}

	if d.Port != 0 && (d.Port > 65535 || d.Port < 1) {
		return fmt.Errorf("invalid port nr %d", d.Port)
	}

	if d.User == "" {
		return fmt.Errorf("missing user")
	}

	if d.StorageCenter == "" {
		return fmt.Errorf("missing storage_center")
	}

	if d.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid timeout_seconds %d", d.TimeoutSeconds)
	}
	return nil
}

// SSH holds settings for SSH connections to managed hosts.
type SSH struct {
	// Port is the SSH port on managed hosts.
	Port int `toml:"port"`
	// User is the user SSH connections are made as. Host side
	// device operations require root.
	User string `toml:"user"`
	// KnownHostsFile is the known hosts file used to verify host
	// keys. Defaults to the calling user's known_hosts.
	KnownHostsFile string `toml:"known_hosts_file"`
	// Insecure disables host key verification.
	Insecure bool `toml:"insecure"`
}

// Validate validates the SSH config
func (s *SSH) Validate() error {
	if s.Port != 0 && (s.Port > 65535 || s.Port < 1) {
		return fmt.Errorf("invalid port nr %d", s.Port)
	}
	return nil
}

// SSHPort returns the configured SSH port.
func (s *SSH) SSHPort() int {
	if s.Port == 0 {
		return DefaultSSHPort
	}
	return s.Port
}

// SSHUser returns the configured SSH user.
func (s *SSH) SSHUser() string {
	if s.User == "" {
		return "root"
	}
	return s.User
}

// Dump dumps the config to a file
func (c *Config) Dump(destination string) error {
	fd, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE, 00700)
	if err != nil {
		return err
	}
	defer fd.Close()

	enc := toml.NewEncoder(fd)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return nil
}
