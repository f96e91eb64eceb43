// Package main implements the drlsync CLI: refresh, check, and serve against
// a locally cached mirror of the Italian Dynamic Revocation List.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/italia/drl-sync/pkg/drl"
	"github.com/italia/drl-sync/pkg/progress"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "version", "--version", "-v":
		fmt.Println("drlsync dev")
	case "help", "--help", "-h":
		printUsage()
	case "refresh":
		if err := refreshCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "check":
		if err := checkCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := serveCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`drlsync - Italian Dynamic Revocation List sync tool

Usage:
  drlsync refresh              Force a sync against the upstream DRL service
  drlsync check <ucvi>         Report whether a cleartext UCVI is revoked
  drlsync serve                Run a long-lived process, refreshing on a timer
  drlsync version              Print version information
  drlsync help                 Show this message

Environment:
  DRL_BASE_PATH     Local mirror directory (default: ./.drl)
  DRL_UPSTREAM_URL  Upstream DRL service origin (required)`)
}

func providerFromEnv() (*drl.Provider, error) {
	basePath := os.Getenv("DRL_BASE_PATH")
	if basePath == "" {
		basePath = "./.drl"
	}
	upstreamURL := os.Getenv("DRL_UPSTREAM_URL")
	if upstreamURL == "" {
		return nil, fmt.Errorf("DRL_UPSTREAM_URL must be set")
	}

	opts := drl.DefaultOptions()
	opts.BasePath = basePath
	opts.UpstreamURL = upstreamURL
	opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	opts.Logger = func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "[drlsync] "+format+"\n", args...)
	}

	return drl.NewProvider(opts)
}

func refreshCommand() error {
	p, err := providerFromEnv()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	status, err := p.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("synced to version %s (%d)\n", status.CurrentVersionID, status.CurrentVersion)
	return nil
}

func checkCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: drlsync check <ucvi>")
	}
	ucvi := os.Args[2]

	p, err := providerFromEnv()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	revoked, err := p.Check(ctx, ucvi)
	if err != nil {
		return err
	}
	if revoked {
		fmt.Println("REVOKED")
	} else {
		fmt.Println("NOT REVOKED")
	}
	return nil
}

func serveCommand() error {
	p, err := providerFromEnv()
	if err != nil {
		return err
	}
	defer p.Close()

	unsubscribe := p.Subscribe(func(evt progress.DownloadProgress) {
		fmt.Printf("progress: %s\n", evt.String())
	})
	defer unsubscribe()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	ctx := context.Background()
	fmt.Println("drlsync serve: refreshing every hour, press Ctrl+C to stop")
	for {
		if _, err := p.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		}
		<-ticker.C
	}
}
