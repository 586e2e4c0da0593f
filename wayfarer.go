package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/wayfarer-dev/wayfarer/cmd/wayfarer"
	"github.com/wayfarer-dev/wayfarer/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if path := os.Getenv("WAYFARER_CONFIG"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := cli.SetupRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
