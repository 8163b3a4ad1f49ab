package config

import (
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// yamlParser is a koanf.Parser for YAML documents.
type yamlParser struct{}

// YAML returns a koanf parser backed by yaml.v3.
func YAML() koanf.Parser {
	return &yamlParser{}
}

func (p *yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func (p *yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(o)
}
