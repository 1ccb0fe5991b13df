package commands

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Commands []Command `yaml:"commands"`
}

// LoadCatalog reads a YAML command catalog which replaces the built-in commands:
//
//	commands:
//	  - id: winget-search
//	    script: Search-Winget.ps1
//	    timeout: 30s
//	    params:
//	      - {name: Query, type: string, required: true}
func LoadCatalog(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse command catalog: %w", err)
	}
	if len(file.Commands) == 0 {
		return nil, fmt.Errorf("command catalog defines no commands")
	}
	return NewRegistry(file.Commands...)
}
