// beacon-auth exchanges an eWeLink authorization code for a token set
// and persists it in the credential store used by the beacon service.
//
// The authorization code is obtained out-of-band: log in at the
// provider's OAuth page with the app's redirect URL, and copy the
// "code" query parameter from the redirect. Codes are single-use and
// expire within minutes, so run this promptly after capturing one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"beacon/config"
	"beacon/internal/ewelink"
	"beacon/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	code := flag.String("code", "", "Authorization code captured from the OAuth redirect (required)")
	redirectURL := flag.String("redirect-url", "", "Redirect URL used during login (defaults to the configured one)")
	testDevice := flag.String("test-device", "", "Optionally switch this device on and off to verify the token")
	flag.Parse()

	if *code == "" {
		log.Fatal("Error: -code is required\n\n" +
			"To get an authorization code:\n" +
			"1. Open the eWeLink OAuth login page for your app\n" +
			"2. Log in with the account that owns the devices\n" +
			"3. Copy the \"code\" query parameter from the redirect URL\n" +
			"4. Run this tool with: -code <code>\n\n" +
			"Codes expire within minutes - exchange promptly.\n")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sqlite.New(cfg.Database.Path, cfg.EWeLink.AppID)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	defer db.Close()

	identity := ewelink.AppIdentity{
		AppID:     cfg.EWeLink.AppID,
		AppSecret: cfg.EWeLink.AppSecret,
	}
	resolver := ewelink.NewResolver(nil)
	exchanger := ewelink.NewExchanger(identity, resolver, db)

	redirect := *redirectURL
	if redirect == "" {
		redirect = cfg.EWeLink.RedirectURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("Exchanging authorization code...")
	tokens, err := exchanger.ExchangeCode(ctx, *code, redirect)
	if err != nil {
		var acquisition *ewelink.AcquisitionError
		if errors.As(err, &acquisition) {
			fmt.Printf("Exchange failed after %d attempts:\n", len(acquisition.Attempts))
			for _, attempt := range acquisition.Attempts {
				fmt.Printf("  %-4s %-12s %v\n", attempt.Region, attempt.Strategy, attempt.Err)
			}
			if errors.Is(err, ewelink.ErrCodeExhausted) {
				fmt.Println("\nThe authorization code was rejected. Obtain a fresh code and try again.")
			}
		}
		log.Fatalf("Token acquisition failed: %v", err)
	}

	fmt.Printf("Token acquired from region %q\n", tokens.Region)
	if tokens.ExpiresAt != nil {
		fmt.Printf("Expires at %s\n", tokens.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("Credentials saved to %s\n", cfg.Database.Path)

	if *testDevice != "" {
		client := ewelink.NewClient(identity, resolver, db, exchanger, "")

		fmt.Printf("Testing token: switching %s on...\n", *testDevice)
		if err := client.SetState(ctx, *testDevice, ewelink.SwitchOn); err != nil {
			log.Fatalf("Test command failed: %v", err)
		}
		time.Sleep(2 * time.Second)
		fmt.Println("Switching it back off...")
		if err := client.SetState(ctx, *testDevice, ewelink.SwitchOff); err != nil {
			log.Fatalf("Test command failed: %v", err)
		}
		fmt.Println("Token verified")
	}
}
