package config

import (
	"os"
	"sync"
)

const redactedPassword = "[REDACTED]"

// EndpointConfig is where a single raw handle connects to.
type EndpointConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`

	// Password is never read from YAML. It is filled from PasswordEnv.
	Password    string `yaml:"-"`
	PasswordEnv string `yaml:"password_env,omitempty"`

	SSLMode string            `yaml:"ssl_mode,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// merge overlays non-zero fields of override on top of e.
func (e EndpointConfig) merge(override *EndpointConfig) EndpointConfig {
	out := e
	if override == nil {
		return out
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.Port != 0 {
		out.Port = override.Port
	}
	if override.Database != "" {
		out.Database = override.Database
	}
	if override.Username != "" {
		out.Username = override.Username
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	if override.SSLMode != "" {
		out.SSLMode = override.SSLMode
	}
	if len(override.Options) > 0 {
		opts := make(map[string]string, len(e.Options)+len(override.Options))
		for k, v := range e.Options {
			opts[k] = v
		}
		for k, v := range override.Options {
			opts[k] = v
		}
		out.Options = opts
	}
	return out
}

func (e *EndpointConfig) resolveSecret() {
	if e.Password != "" {
		return
	}
	e.Password = lookupEnv(e.PasswordEnv)
}

func (e EndpointConfig) redacted() EndpointConfig {
	if e.Password != "" {
		e.Password = redactedPassword
	}
	return e
}

// ResolvedHost returns the host to dial. Inside a Docker container
// "localhost" and "127.0.0.1" point at the container itself, so they are
// rewritten to host.docker.internal to reach databases on the host machine.
func (e EndpointConfig) ResolvedHost() string {
	if !isRunningInDocker() {
		return e.Host
	}
	if e.Host == "localhost" || e.Host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return e.Host
}

var (
	inDockerOnce sync.Once
	inDocker     bool
)

func isRunningInDocker() bool {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	return inDocker
}
