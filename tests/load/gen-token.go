//go:build ignore

// gen-token prints a signed session JWT for load-testing the
// create-user flow: go run gen-token.go | read TOKEN. Signs with
// JWT_SECRET when set, matching the gateway's session.jwt_secret.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "loadtest-secret"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "loadtest-admin",
		"email": "loadtest@example.dev",
		"exp":   time.Now().Add(2 * time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(s)
}
