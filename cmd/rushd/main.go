// Command rushd runs the multi-tenant HTTP(S) backend orchestrator: a
// reverse proxy in front of any number of independently managed static
// document-root servers, with hot reload, per-backend TLS, and an
// administrative command surface.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/nilsbr/rushd/internal/app"
	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/auth"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	headless := flag.Bool("headless", false, "run without a TUI, starting every auto_start backend and waiting for a signal")
	daemon := flag.Bool("daemon", false, "alias for --headless")
	hashKey := flag.String("hash-key", "", "print the HMAC representation of <value> and exit")
	baseDir := flag.String("base-dir", ".", "base directory holding .rss/ config, registry, certs, and logs")
	flag.Parse()

	if *hashKey != "" {
		fmt.Println(auth.HashKey(*hashKey))
		return exitOK
	}

	a, err := app.New(app.Options{
		BaseDir:  *baseDir,
		Headless: *headless || *daemon,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		if errors.Is(err, apperr.ErrConfig) {
			return exitConfigError
		}
		if errors.Is(err, apperr.ErrBind) || errors.Is(err, apperr.ErrPortExhausted) {
			return exitBindFailure
		}
		return exitConfigError
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		if errors.Is(err, apperr.ErrBind) || errors.Is(err, apperr.ErrPortExhausted) {
			return exitBindFailure
		}
		return exitConfigError
	}

	// Run only returns nil after a clean signal-triggered shutdown: there is
	// no other normal exit path for a long-running orchestrator.
	return exitInterrupted
}
