// Package main starts the terminal client for shared world sessions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/louisbranch/omniscript/internal/cmd/client"
	"github.com/louisbranch/omniscript/internal/platform/config"
)

func main() {
	cfg, err := clientcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[CLIENT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := clientcmd.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("client exited: %v", err)
	}
}
