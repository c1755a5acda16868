package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/halodocs/workbench/internal/workerapp"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	a := workerapp.New(ctx)
	if err := a.Run(ctx); err != nil {
		log.Fatalln("worker:", err)
	}
}
