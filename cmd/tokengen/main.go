// Package main provides a CLI tool for minting reviewer tokens for the warden
// review API. By default tokens are signed with the development key from
// config.Default and will NOT work in production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	jwttoken "warden/internal/jwt_token"
	"warden/internal/platform/config"
	platformstrings "warden/pkg/platform/strings"
)

const defaultTokenTTL = time.Hour

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	reviewerCmd := flag.NewFlagSet("reviewer", flag.ExitOnError)
	reviewer := reviewerCmd.String("reviewer", "", "Reviewer identity recorded on status changes (required)")
	scopes := reviewerCmd.String("scopes", strings.Join(jwttoken.AllScopes, ","), "Comma-separated scopes")
	ttl := reviewerCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	key := reviewerCmd.String("key", "", "Signing key (default: WARDEN_SERVER__REVIEWER_SIGNING_KEY or the dev key)")
	issuer := reviewerCmd.String("issuer", config.Default().Server.ReviewerIssuer, "Token issuer")
	jsonOut := reviewerCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reviewer":
		_ = reviewerCmd.Parse(os.Args[2:])
		if *reviewer == "" {
			fmt.Fprintln(os.Stderr, "Error: -reviewer is required")
			os.Exit(1)
		}
		generateReviewerToken(*reviewer, platformstrings.SplitList(*scopes), *ttl, signingKey(*key), *issuer, *jsonOut)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate reviewer tokens for the warden review API

WARNING: Without -key these tokens use the development signing key and will
         NOT work in production.

Usage:
  tokengen reviewer -reviewer <name> [flags]

Examples:
  # Full-access token for a local reviewer
  tokengen reviewer -reviewer alice@example.com

  # Read-only token valid for 10 minutes
  tokengen reviewer -reviewer bob -scopes detections:read,policy:read -ttl 10m

  # Output as JSON
  tokengen reviewer -reviewer alice -json`)
}

func signingKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(config.EnvPrefix + "SERVER__REVIEWER_SIGNING_KEY"); env != "" {
		return env
	}
	return config.Default().Server.ReviewerSigningKey
}

func generateReviewerToken(reviewer string, scopes []string, ttl time.Duration, key, issuer string, jsonOutput bool) {
	svc := jwttoken.NewJWTService(key, issuer, ttl)
	token, err := svc.GenerateReviewerToken(context.Background(), reviewer, scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			Type:      "reviewer_token",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"sub":   reviewer,
				"iss":   issuer,
				"scope": scopes,
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Reviewer Token (JWT)")
	fmt.Println("====================")
	fmt.Printf("Reviewer:   %s\n", reviewer)
	fmt.Printf("Issuer:     %s\n", issuer)
	fmt.Printf("Scopes:     %v\n", scopes)
	fmt.Printf("Expires In: %s\n", ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/admin/detections")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
