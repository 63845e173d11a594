package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file accepted by --config
type FileConfig struct {
	Port       *int              `yaml:"port"`
	Bind       string            `yaml:"bind"`
	Dir        string            `yaml:"dir"`
	DBFilename string            `yaml:"dbfilename"`
	ReplicaOf  string            `yaml:"replicaof"`
	AdminAddr  string            `yaml:"admin-addr"`
	Verbose    bool              `yaml:"verbose"`
	Cleanup    bool              `yaml:"active-expire"`
	Params     map[string]string `yaml:"params"`
}

// loadFileConfig reads and decodes the YAML file at path
func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Port != nil && (*cfg.Port < 0 || *cfg.Port > 65535) {
		return nil, fmt.Errorf("parsing config file %s: port %d out of range", path, *cfg.Port)
	}
	return &cfg, nil
}

// merge fills every option not set on the command line from the file
func (o *ServerOptions) merge(cfg *FileConfig, changed func(name string) bool) {
	if cfg.Port != nil && !changed("port") {
		o.Port = *cfg.Port
	}
	if cfg.Bind != "" && !changed("bind") {
		o.Bind = cfg.Bind
	}
	if cfg.Dir != "" && !changed("dir") {
		o.Dir = cfg.Dir
	}
	if cfg.DBFilename != "" && !changed("dbfilename") {
		o.DBFilename = cfg.DBFilename
	}
	if cfg.ReplicaOf != "" && !changed("replicaof") {
		o.ReplicaOf = cfg.ReplicaOf
	}
	if cfg.AdminAddr != "" && !changed("admin-addr") {
		o.AdminAddr = cfg.AdminAddr
	}
	if cfg.Verbose && !changed("verbose") {
		o.Verbose = true
	}
	if cfg.Cleanup && !changed("active-expire") {
		o.Cleanup = true
	}
	if len(cfg.Params) > 0 {
		o.Params = cfg.Params
	}
}
