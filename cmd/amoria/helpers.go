package main

import (
	"fmt"
	"os"

	amoria "github.com/amoria-app/amoria-go"
)

// getClient creates an Amoria client from the stored login.
func getClient() (*amoria.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'amoria login <email>' first.")
		os.Exit(1)
	}

	opts := []amoria.ClientOption{}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, amoria.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Auth.RefreshToken != "" {
		opts = append(opts, amoria.WithRefreshToken(cfg.Auth.RefreshToken))
	}

	return amoria.NewClient(cfg.Auth.Token, opts...), cfg
}
