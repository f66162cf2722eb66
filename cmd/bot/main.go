package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cyclebot/internal/app"
)

func main() {
	var (
		cfgPath   string
		sweepOnce bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.BoolVar(&sweepOnce, "sweep-once", false, "run one notification sweep and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	if sweepOnce {
		rep, err := a.Router().Sweep(ctx, time.Now())
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx)
		if err != nil {
			fmt.Println("sweep:", err)
			os.Exit(1)
		}
		fmt.Printf("sweep: users=%d fired=%d suppressed=%d skipped=%d failures=%d\n",
			rep.Users, rep.Fired, rep.Suppressed, rep.Skipped, rep.Failures)
		return
	}

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
