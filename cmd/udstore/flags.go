package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

type cliConfig struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
	LogFile    string
	JSONOut    bool
}

const usage = `usage: udstore [flags] <command> [args]

commands:
  get <ns> <key>             print a record and its metadata
  set <ns> <key> <json>      write a record
  delete <ns> <key>          remove a record
  query <ns>                 list records, optionally sorted and paged
  stats [ns...]              count records per backend and namespace
  sweep                      delete expired records now
  migrate -from a -to b [ns...]
  backup [-o file] [-s3] [ns...]
  restore [-s3 id | file]
  serve                      run the sweeper and expose /metrics

flags:
`

func parseGlobal(args []string, stderr io.Writer) (*cliConfig, []string, error) {
	cfg := &cliConfig{}
	fs := flag.NewFlagSet("udstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv("UDSTORE_CONFIG"),
		"Path to YAML configuration (env: UDSTORE_CONFIG)")
	fs.StringVar(&cfg.DataDir, "data", envOr("UDSTORE_DATA", "./data"),
		"Directory for the default bolt and sqlite files when no config is given (env: UDSTORE_DATA)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("UDSTORE_LOG_LEVEL", "warn"),
		"Log level: debug, info, warn, error (env: UDSTORE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFile, "log-file", os.Getenv("UDSTORE_LOG_FILE"),
		"Write logs to this rotated file instead of stderr (env: UDSTORE_LOG_FILE)")
	fs.BoolVar(&cfg.JSONOut, "json", false, "Print results as compact JSON")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, nil, errUsage
	}
	return cfg, fs.Args(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
