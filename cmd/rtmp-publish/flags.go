package main

import (
	"errors"
	"flag"
	"os"
)

// cliConfig holds the flag values before they're merged into config.Config.
type cliConfig struct {
	configPath string
	envFile    string
	url        string
	streamKey  string
	input      string
	dump       string
	loop       bool
	realtime   bool
	logLevel   string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("rtmp-publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&cfg.envFile, "env", ".env", "Environment file loaded before RTMP_* variables are read")
	fs.StringVar(&cfg.url, "url", "", "rtmp:// or rtmps:// URL to publish to, the last path element is the stream key")
	fs.StringVar(&cfg.streamKey, "key", "", "Stream key, overrides the one in -url")
	fs.StringVar(&cfg.input, "input", "", "FLV or MPEG-TS file to publish")
	fs.StringVar(&cfg.dump, "dump", "", "Also write the published tags to this FLV file")
	fs.BoolVar(&cfg.loop, "loop", false, "Start over at the end of the input")
	fs.BoolVar(&cfg.realtime, "realtime", true, "Send frames at the pace of their timestamps")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.input == "" {
		return nil, errors.New("-input is required")
	}
	return cfg, nil
}
