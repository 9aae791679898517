package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hsrmk/skystack/internal/app"
	"github.com/hsrmk/skystack/internal/logger"
)

var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = application.Close()
	}()

	if err := application.Run(context.Background()); err != nil {
		application.Logger().Error("service exited with error", logger.Error(err))
		os.Exit(1)
	}
}
