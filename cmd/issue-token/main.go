// issue-token prints a signed bearer token for the regional sync admin endpoints.
//
// Usage:
//
//	API_SECRET=... go run ./cmd/issue-token -user 1 -role admin -ttl 24h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/seplag/regional_sync/utils"
)

func main() {
	userID := flag.Int("user", 1, "User id stored in the token")
	role := flag.String("role", "admin", "Role stored in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := strings.TrimSpace(os.Getenv("API_SECRET"))
	if secret == "" {
		fmt.Fprintln(os.Stderr, "API_SECRET is required")
		os.Exit(1)
	}
	utils.SetJwtSecret(secret)

	token, err := utils.JwtGenerate(*userID, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
