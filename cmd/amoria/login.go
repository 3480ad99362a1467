package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	amoria "github.com/amoria-app/amoria-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the session in ~/.amoria/config.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("cannot read password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		opts := []amoria.ClientOption{}
		if cfg.Default.BaseURL != "" {
			opts = append(opts, amoria.WithBaseURL(cfg.Default.BaseURL))
		}
		client := amoria.NewClient("", opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		data, err := client.Login(ctx, email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = data.Token
		cfg.Auth.RefreshToken = data.RefreshToken
		cfg.Auth.UserID = data.UserID
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s. Session saved to %s\n", data.UserID, path)
		return nil
	},
}
