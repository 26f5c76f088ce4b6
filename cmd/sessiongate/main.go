package main

import (
	"context"
	"log"
	"os"

	"github.com/veltrix/sessiongate/internal/app/bootstrap"
)

func main() {
	ctx := context.Background()
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/default.yaml"
	}
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		log.Fatalf("bootstrap sessiongate runtime: %v", err)
	}
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("run sessiongate: %v", err)
	}
}
