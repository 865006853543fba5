package main

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"bundlex/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the daemon address from the --api flag, falling back to the
// configured bind address.
func (c *commandContext) baseURL() string {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return normalizeBaseURL(addr)
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return normalizeBaseURL(cfg.Paths.APIBind)
	}
	return normalizeBaseURL("127.0.0.1:8347")
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.baseURL(), 10*time.Minute)
}

func normalizeBaseURL(addr string) string {
	addr = strings.TrimSuffix(strings.TrimSpace(addr), "/")
	if addr == "" {
		addr = "127.0.0.1:8347"
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
