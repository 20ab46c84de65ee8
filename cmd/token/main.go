// Command token mints an analyst token signed with the configured secret.
//
//	CONFIG_PATH=configs/config.yml go run ./cmd/token -sub alice -role analyst
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"zeroledger/internal/config"
	"zeroledger/internal/middleware"
)

func main() {
	subject := flag.String("sub", "", "token subject (analyst name)")
	role := flag.String("role", "analyst", "role claim")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to auth.token_ttl")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		os.Exit(2)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not set")
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, expiresAt, err := middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, lifetime).Issue(*subject, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
