package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/bringyour/proxypanel/panel"
)


const DefaultListenAddr = "127.0.0.1:7899"
const DefaultTimeout = 10 * time.Second


// flags override the file
type PanelCtlConfig struct {
	ApiUrl string `yaml:"api_url"`
	// ping cache directory. Empty keeps the cache in memory.
	Cache string `yaml:"cache"`
	// `-` prompts on the terminal
	Jwt     string        `yaml:"jwt"`
	Listen  string        `yaml:"listen"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultPanelCtlConfig() *PanelCtlConfig {
	return &PanelCtlConfig{
		ApiUrl:  panel.DefaultApiUrl,
		Listen:  DefaultListenAddr,
		Timeout: DefaultTimeout,
	}
}

func LoadPanelCtlConfig(path string) (*PanelCtlConfig, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePanelCtlConfig(configBytes)
}

// unknown keys are an error
func ParsePanelCtlConfig(configBytes []byte) (*PanelCtlConfig, error) {
	config := DefaultPanelCtlConfig()

	dec := yaml.NewDecoder(bytes.NewReader(configBytes))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.Timeout <= 0 {
		return nil, fmt.Errorf("invalid config: timeout must be positive")
	}
	return config, nil
}

func (self *PanelCtlConfig) ApplyOpts(opts docopt.Opts) error {
	if apiUrl, err := opts.String("--api_url"); err == nil {
		self.ApiUrl = apiUrl
	}
	if cache, err := opts.String("--cache"); err == nil {
		self.Cache = cache
	}
	if jwt, err := opts.String("--jwt"); err == nil {
		self.Jwt = jwt
	}
	if listen, err := opts.String("--listen"); err == nil {
		self.Listen = listen
	}
	if timeoutStr, err := opts.String("--timeout"); err == nil {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("invalid --timeout: must be positive")
		}
		self.Timeout = timeout
	}
	return nil
}

// the file named by `--config`, if any, then flags
func panelCtlConfig(opts docopt.Opts) (*PanelCtlConfig, error) {
	config := DefaultPanelCtlConfig()
	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		config, err = LoadPanelCtlConfig(configPath)
		if err != nil {
			return nil, err
		}
	}
	if err := config.ApplyOpts(opts); err != nil {
		return nil, err
	}
	return config, nil
}

func (self *PanelCtlConfig) ResolveJwt() (string, error) {
	if self.Jwt != "-" {
		return self.Jwt, nil
	}
	fmt.Fprint(os.Stderr, "Enter jwt: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(jwtBytes)), nil
}
