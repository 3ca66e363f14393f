// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultThreadScanDepth is how many recent root posts per channel are
// considered when listing relay threads.
const DefaultThreadScanDepth = 200

// Config holds the Mattermost connection settings.
type Config struct {
	ServerURL string `yaml:"server_url" validate:"required,url"`

	// Token is a bot or personal access token.
	Token               string `yaml:"token" validate:"required"`
	DisplaynameTemplate string `yaml:"displayname_template"`

	// ThreadScanDepth bounds the root posts fetched per channel when looking
	// for existing relay threads.
	ThreadScanDepth int `yaml:"thread_scan_depth" validate:"gte=0"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess compiles the displayname template and fills defaults.
func (c *Config) PostProcess() error {
	if c.ThreadScanDepth == 0 {
		c.ThreadScanDepth = DefaultThreadScanDepth
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf strings.Builder
	if err := c.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Username
	}
	if name := strings.TrimSpace(buf.String()); name != "" {
		return name
	}
	return params.Username
}
