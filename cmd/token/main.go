package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/canceldesk/internal/auth"
	"github.com/kiwari-pos/canceldesk/internal/config"
	"github.com/kiwari-pos/canceldesk/internal/enum"
)

// token mints a signed access token for local testing of the desk and the
// cashier WebSocket without a login service.
func main() {
	// CLI flags
	userID := flag.String("user", "", "User ID (defaults to a random UUID)")
	username := flag.String("username", "", "Username shown as approver / rejecter")
	role := flag.String("role", enum.UserRoleOwner, "OWNER, MANAGER or CASHIER")
	ttl := flag.Duration("ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	// Fall back to environment variables
	if *userID == "" {
		*userID = os.Getenv("TOKEN_USER_ID")
	}
	if *username == "" {
		*username = os.Getenv("TOKEN_USERNAME")
	}

	// Fall back to defaults
	if *userID == "" {
		*userID = uuid.NewString()
	}
	if *username == "" {
		*username = "owner"
	}

	r := strings.ToUpper(strings.TrimSpace(*role))
	switch r {
	case enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleCashier:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	cfg := config.Load()
	if cfg.Env == "production" {
		log.Println("WARNING: minting a token with the production secret")
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, *userID, *username, r, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	log.Printf("User ID: %s", *userID)
	log.Printf("Role: %s, expires in %s", r, *ttl)
	fmt.Println(token)
}
