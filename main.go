package main

import (
	"DKV/bootstrap"
	"DKV/internal/platform/config"
	"flag"
	"fmt"
	"os"
)

var (
	dirCmd    = flag.String("dir", "", "data directory (defaults to DKV_DATA_DIR)")
	verifyCmd = flag.Bool("verify", false, "read every sstable and check key order and record counts")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if *dirCmd != "" {
		cfg.DataDir = *dirCmd
	}

	if err := bootstrap.Run(cfg, *verifyCmd, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dkv:", err)
		os.Exit(1)
	}
}
