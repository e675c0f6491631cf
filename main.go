package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/hey/bootstrap"
	"github.com/ceyewan/hey/gateway"
)

func main() {
	var module string
	flag.StringVar(&module, "module", "", "assign run module: gateway, migrate")
	flag.Parse()

	if module == "" {
		fmt.Println("error: module param required! Available: gateway, migrate")
		os.Exit(1)
	}

	fmt.Printf("🚀 Starting Hey %s...\n", module)

	// 各个组件负责自己的配置加载
	switch module {
	case "gateway":
		g, err := gateway.New()
		if err != nil {
			fmt.Printf("❌ Failed to start gateway: %v\n", err)
			os.Exit(1)
		}
		defer g.Close()
		if err := g.Run(); err != nil {
			fmt.Printf("❌ Gateway error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal(g.Done())

	case "migrate":
		if err := bootstrap.Run(); err != nil {
			fmt.Printf("❌ Migrate error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Database initialized")

	default:
		fmt.Printf("❌ Unknown module: %s\n", module)
		fmt.Println("Available modules: gateway, migrate")
		os.Exit(1)
	}
}

func waitForSignal(done <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-quit:
	case <-done:
	}

	fmt.Println("👋 Service exiting")
}
