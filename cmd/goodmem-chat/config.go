package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-goodmem/engine"
	"github.com/becomeliminal/nim-goodmem/memory"
)

// chatConfig is the YAML file layer of the demo. Environment values sit
// below it (memory.Load) and command-line flags above it.
type chatConfig struct {
	Model         string        `yaml:"model"`
	AppName       string        `yaml:"app"`
	UserID        string        `yaml:"user"`
	SessionID     string        `yaml:"session"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Local         bool          `yaml:"local"`
	Serve         string        `yaml:"serve"`
	DisableTools  bool          `yaml:"disable_tools"`
	DisablePlugin bool          `yaml:"disable_plugin"`
	Memory        memory.Config `yaml:"memory"`
}

func defaultChatConfig() chatConfig {
	user := os.Getenv("USER")
	if user == "" {
		user = "default"
	}
	return chatConfig{
		Model:   engine.DefaultModel,
		AppName: "goodmem-chat",
		UserID:  user,
	}
}

// loadChatConfig reads path over the defaults. An empty path yields the
// defaults. Unknown keys are rejected.
func loadChatConfig(path string) (chatConfig, error) {
	cfg := defaultChatConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// chatFlags are the command-line overrides.
type chatFlags struct {
	configPath string
	model      string
	app        string
	user       string
	session    string
	spaceName  string
	serve      string
	local      bool
	noTools    bool
	noPlugin   bool
	debug      bool
}

func (f *chatFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.model, "model", "", "Claude model")
	fs.StringVar(&f.app, "app", "", "application name")
	fs.StringVar(&f.user, "user", "", "user id; selects the memory space")
	fs.StringVar(&f.session, "session", "", "session id (random when empty)")
	fs.StringVar(&f.spaceName, "space", "", "pin the memory space by name")
	fs.StringVar(&f.serve, "serve", "", "serve WebSocket chat on this address instead of the terminal")
	fs.BoolVar(&f.local, "local", false, "use an in-process store instead of a Goodmem server")
	fs.BoolVar(&f.noTools, "no-tools", false, "do not offer goodmem_save and goodmem_fetch")
	fs.BoolVar(&f.noPlugin, "no-plugin", false, "disable automatic capture and recall")
	fs.BoolVar(&f.debug, "debug", false, "log retrieved memories")
}

// apply overrides cfg with the flags that were set on fs.
func (f *chatFlags) apply(fs *flag.FlagSet, cfg *chatConfig) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "model":
			cfg.Model = f.model
		case "app":
			cfg.AppName = f.app
		case "user":
			cfg.UserID = f.user
		case "session":
			cfg.SessionID = f.session
		case "space":
			cfg.Memory.SpaceName = f.spaceName
		case "serve":
			cfg.Serve = f.serve
		case "local":
			cfg.Local = f.local
		case "no-tools":
			cfg.DisableTools = f.noTools
		case "no-plugin":
			cfg.DisablePlugin = f.noPlugin
		case "debug":
			cfg.Memory.Debug = f.debug
		}
	})
}
