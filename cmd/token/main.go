// Command token issues bearer tokens for the mmkb API.
package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/seanblong/mmkb/internal/auth"
	"github.com/seanblong/mmkb/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("mmkb-token", pflag.ExitOnError)
	client := fs.String("client", "", "Client name recorded as the token subject")
	scopes := fs.StringSlice("scopes", []string{auth.ScopeSearch}, "Scopes to grant (ingest, search)")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	for _, s := range *scopes {
		if s != auth.ScopeIngest && s != auth.ScopeSearch {
			log.Fatalf("unknown scope %q (want %s or %s)", s, auth.ScopeIngest, auth.ScopeSearch)
		}
	}

	// Issuing only needs the secret; auth may be disabled on this host.
	a, err := auth.New(auth.Config{
		Enabled:   true,
		JwtSecret: []byte(cfg.Auth.JwtSecret),
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	tok, err := a.IssueToken(strings.TrimSpace(*client), *scopes, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(tok)
}
