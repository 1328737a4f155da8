// saldo-token signs a session token for a member, using the same secret
// the server validates against. Meant for operators bootstrapping
// clients; there is no self-service signup in a fixed-roster household.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/config"
	"saldo/internal/identity"
)

func main() {
	var (
		memberID = flag.String("member", "", "member id the token identifies")
		admin    = flag.Bool("admin", false, "grant clearing and budget permissions")
		duration = flag.Duration("duration", 0, "token lifetime (default from TOKEN_DURATION)")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if *memberID == "" {
		fmt.Fprintln(os.Stderr, "usage: saldo-token -member <id> [-admin] [-duration 24h]")
		os.Exit(2)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	lifetime := cfg.TokenDuration
	if *duration > 0 {
		lifetime = *duration
	}
	if lifetime < time.Minute {
		fmt.Fprintln(os.Stderr, "token lifetime must be at least 1 minute")
		os.Exit(1)
	}

	tokens := identity.NewManager(cfg.JWTSecret, lifetime)
	token, err := tokens.Issue(identity.Actor{MemberID: *memberID, Admin: *admin})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
