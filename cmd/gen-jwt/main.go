// gen-jwt mints a bearer token for the imageman API, signed with the
// same JWT_SECRET the server verifies requests against.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	subject := flag.String("subject", "imageman-admin", "Subject (sub) claim identifying the caller")
	ttl := flag.Duration("ttl", 24*time.Hour, "How long the token stays valid")
	flag.Parse()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT_SECRET environment variable is not set\n")
		os.Exit(1)
	}

	tokenString, err := mint(jwtSecret, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
}

// mint signs an HS256 token carrying the subject, scoped to the
// imageman issuer and bounded by ttl.
func mint(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": "imageman",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
