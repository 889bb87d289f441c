package doctor

import (
	"context"
	"errors"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/hay-kot/criterio"
)

// ConfigCheck runs deep configuration validation.
type ConfigCheck struct {
	cfg        *config.Config
	configPath string
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, configPath: configPath}
}

func (c *ConfigCheck) Name() string { return "Configuration" }

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.cfg.ValidateDeep(c.configPath); err != nil {
		var fieldErrs criterio.FieldErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result.add(fe.Field, StatusFail, fe.Err.Error())
			}
		} else {
			result.add("config", StatusFail, err.Error())
		}
	} else {
		result.add("config", StatusPass, string(c.cfg.Backend.Type)+" backend")
	}

	for _, w := range c.cfg.Warnings() {
		result.add(w.Item, StatusWarn, w.Message)
	}

	return result
}
