// Package main mints HS256 JWTs for the resilienced admin API. The secret,
// issuer, audience, and scopes must match the daemon's admin.auth config.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	subject := flag.String("sub", "ops-admin", "token subject")
	issuer := flag.String("iss", "resilienced", "token issuer")
	audience := flag.String("aud", "resilienced-admin", "token audience")
	scope := flag.String("scope", "resilience:read resilience:admin", "space-separated scopes")
	ttl := flag.Duration("ttl", 2*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("RESILIENCED_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "error: RESILIENCED_JWT_SECRET is not set")
		os.Exit(1)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   *subject,
		"iss":   *issuer,
		"aud":   *audience,
		"exp":   time.Now().Add(*ttl).Unix(),
		"scope": *scope,
	})

	s, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(s)
}
