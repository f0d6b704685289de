package main

import (
	"flag"
	"os"

	"github.com/keyfold/keyfold/internal/platform/config"
	"github.com/keyfold/keyfold/internal/tools/cookiekey"
)

func main() {
	cfg, err := cookiekey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := cookiekey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate keys: %v", err)
	}
}
