package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration including
// backend settings, URLs, and file accessibility. The configPath argument
// specifies the config file location to validate (empty string skips config file check).
// This calls Validate() first for basic structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateBackend(),
		c.validateLLM(),
		c.validateServer(),
		criterio.Run("timezone", c.Timezone, isLocation),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.LLM.Token == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "LLM",
			Item:     "llm.token",
			Message:  "no token set; `say` adds raw text without interpretation",
		})
	}
	if c.Backend.Type == BackendMemory {
		warnings = append(warnings, ValidationWarning{
			Category: "Backend",
			Item:     "backend.type",
			Message:  "memory backend keeps nothing after the process exits",
		})
	}
	if c.Backend.Type == BackendRemote && c.Backend.Remote.Token == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Backend",
			Item:     "backend.remote.token",
			Message:  "no token set; the server must run without authentication",
		})
	}
	if c.Server.Token == "" && c.Server.ReadToken != "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "server.read_token",
			Message:  "read_token has no effect without token",
		})
	}

	return warnings
}

// validateFileAccess checks config file and data directory.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

func (c *Config) validateBackend() error {
	var errs criterio.FieldErrorsBuilder

	switch c.Backend.Type {
	case BackendJSONFile:
		if err := isDirectoryOrNotExist(c.Backend.Dir); err != nil {
			errs = errs.Append("backend.dir", err)
		}
	case BackendSQLite:
		sq := c.Backend.SQLite
		if sq.MaxOpenConns < 1 {
			errs = errs.Append("backend.sqlite.max_open_conns", fmt.Errorf("must be at least 1"))
		}
		if sq.MaxIdleConns > sq.MaxOpenConns {
			errs = errs.Append("backend.sqlite.max_idle_conns", fmt.Errorf("cannot exceed max_open_conns (%d)", sq.MaxOpenConns))
		}
		if err := isPositive(sq.PollInterval); err != nil {
			errs = errs.Append("backend.sqlite.poll_interval", err)
		}
	case BackendRedis:
		if _, _, err := net.SplitHostPort(c.Backend.Redis.Addr); err != nil {
			errs = errs.Append("backend.redis.addr", fmt.Errorf("invalid address %q: %w", c.Backend.Redis.Addr, err))
		}
		if c.Backend.Redis.DB < 0 {
			errs = errs.Append("backend.redis.db", fmt.Errorf("cannot be negative"))
		}
	case BackendRemote:
		if err := isHTTPURL(c.Backend.Remote.URL); err != nil {
			errs = errs.Append("backend.remote.url", err)
		}
		if err := isPositive(c.Backend.Remote.Timeout); err != nil {
			errs = errs.Append("backend.remote.timeout", err)
		}
	}

	return errs.ToError()
}

func (c *Config) validateLLM() error {
	var errs criterio.FieldErrorsBuilder
	if err := isHTTPURL(c.LLM.BaseURL); err != nil {
		errs = errs.Append("llm.base_url", err)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = errs.Append("llm.temperature", fmt.Errorf("must be between 0 and 2, got %v", c.LLM.Temperature))
	}
	return errs.ToError()
}

func (c *Config) validateServer() error {
	var errs criterio.FieldErrorsBuilder
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = errs.Append("server.addr", fmt.Errorf("invalid address %q: %w", c.Server.Addr, err))
	}
	if c.Server.MaxBodyBytes < 1 {
		errs = errs.Append("server.max_body_bytes", fmt.Errorf("must be at least 1"))
	}
	return errs.ToError()
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func isHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func isPositive(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func isLocation(name string) error {
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown time zone %q", name)
	}
	return nil
}
