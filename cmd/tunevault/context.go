package main

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/logger"
)

const defaultConfigPath = "./tunevault.yaml"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	manager    *config.ConfigManager
	configPath string
	configErr  error
	log        hclog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := c.resolveConfigPath()

		c.manager = config.NewConfigManager(logger.Named("config"))
		if err := c.manager.LoadConfig(path); err != nil {
			c.configErr = err
			return
		}
		c.configPath = path

		cfg := c.manager.GetConfig()
		c.log = logger.New(logger.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Color:  cfg.Logging.EnableColors,
		})
		logger.SetDefault(c.log)
	})
	if c.configErr != nil {
		return nil, c.configErr
	}
	return c.manager.GetConfig(), nil
}

func (c *commandContext) resolveConfigPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	if path := os.Getenv("TUNEVAULT_CONFIG_PATH"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func (c *commandContext) logger() hclog.Logger {
	if c.log == nil {
		return logger.Default()
	}
	return c.log
}
