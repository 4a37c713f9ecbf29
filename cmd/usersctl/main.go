// Command usersctl administers userauth accounts: creating superusers and
// users, sweeping expired tokens, running schema migrations and serving the
// auth endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	ua "github.com/panyam/userauth"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(ua.ExitCode(err))
	}
}
