package config

import (
	"flag"
	"fmt"
	"os"
)

// Get parses --config from the command line and loads that file.
func Get() (Config, error) {
	return GetFrom(flag.CommandLine, os.Args[1:])
}

// GetFrom parses args with fs and loads the referenced config file.
func GetFrom(fs *flag.FlagSet, args []string) (Config, error) {
	path := fs.String("config", "config.yaml", "path to yaml config")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	return Load(*path)
}
