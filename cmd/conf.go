package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/scitags/nlmux/api"
	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/prometheus"
	"github.com/scitags/nlmux/transport"
)

type Config struct {
	// ErrorTable points to a YAML file overriding the default errno
	// classification.
	ErrorTable string `yaml:"errorTable"`

	// Namespace is the name of the network namespace (under /run/netns) the
	// socket is opened in. Empty means the one we're running in.
	Namespace string `yaml:"namespace"`

	Netlink    *nl.Config         `yaml:"netlink"`
	Transport  *transport.Config  `yaml:"transport"`
	Api        *api.Config        `yaml:"api"`
	Prometheus *prometheus.Config `yaml:"prometheus"`
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

// withDefaults fills in the sections missing from the file.
func (c *Config) withDefaults() *Config {
	if c.Netlink == nil {
		def := nl.DefaultConfig
		c.Netlink = &def
	}
	if c.Transport == nil {
		def := transport.DefaultConfig
		c.Transport = &def
	}
	if c.Api == nil {
		def := api.DefaultConfig
		c.Api = &def
	}
	if c.Prometheus == nil {
		def := prometheus.DefaultConfig
		c.Prometheus = &def
	}
	return c
}

// ReadConf parses the configuration at path. An empty path yields the
// defaults.
func ReadConf(path string) (*Config, error) {
	conf := Config{}

	if path == "" {
		return conf.withDefaults(), nil
	}

	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	if err := yaml.Unmarshal(r, &conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	return conf.withDefaults(), nil
}
