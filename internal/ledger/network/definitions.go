package network

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/networks.yaml.
type Definitions struct {
	Default  string                `yaml:"default"`
	Networks map[string]Definition `yaml:"networks"`
}

// Definition describes the endpoints of one Hedera network.
type Definition struct {
	MirrorURL   string `yaml:"mirror_url"`
	JSONRPCURL  string `yaml:"json_rpc_url"`
	Timeout     string `yaml:"timeout"`
	Description string `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing network metadata. An empty
// path yields an empty set.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Networks: map[string]Definition{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read network definitions: %w", err)
	}
	return ParseDefinitions(content)
}

// ParseDefinitions decodes network definitions from YAML.
func ParseDefinitions(content []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("parse network definitions: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]Definition{}
	}
	return defs, nil
}
