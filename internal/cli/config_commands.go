package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/csvup/internal/api"
	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/http"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage csvup configuration",
		Long: `Configuration management commands for csvup.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the upload and existence endpoints
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for csvup.

The configuration is saved to ` + config.DefaultConfigPath() + `
unless --config is given.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			if !force {
				if _, err := os.Stat(configPath); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", configPath)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := promptConfig(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			logger.Info().Str("path", configPath).Msg("Configuration saved")

			fmt.Println()
			fmt.Printf("✓ Configuration saved to: %s\n", configPath)
			fmt.Println()
			fmt.Println("Test your configuration with: csvup config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig asks for the endpoint, credential and proxy settings, using
// the defaults for empty answers.
func promptConfig(in io.Reader, out io.Writer) (*config.Config, error) {
	cfg := config.NewConfig()
	reader := bufio.NewReader(in)

	ask := func(label, def string) string {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			return def
		}
		return input
	}

	fmt.Fprintln(out, "csvup Configuration Setup")
	fmt.Fprintln(out, "=========================")
	fmt.Fprintln(out)

	cfg.ExistsURL = ask("Existence check URL", cfg.ExistsURL)
	cfg.UploadURL = ask("Upload (tus) URL", cfg.UploadURL)
	cfg.AccessKey = ask("Access key (optional)", "")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Upload Settings (press Enter for defaults)")
	fmt.Fprintln(out, "------------------------------------------")

	if v, err := strconv.ParseInt(ask("Maximum file size in bytes", strconv.FormatInt(cfg.MaxFileSize, 10)), 10, 64); err == nil && v > 0 {
		cfg.MaxFileSize = v
	}
	if v, err := strconv.Atoi(ask("Grid page size", strconv.Itoa(cfg.PageSize))); err == nil && v > 0 {
		cfg.PageSize = v
	}

	fmt.Fprintln(out)
	proxy := strings.ToLower(ask("Configure proxy? [y/N]", ""))
	if proxy == "y" || proxy == "yes" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Proxy Configuration")
		fmt.Fprintln(out, "-------------------")
		fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
		cfg.ProxyMode = ask("Proxy mode", "system")

		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			cfg.ProxyHost = ask("Proxy host", "")
			if v, err := strconv.Atoi(ask("Proxy port", "8080")); err == nil && v > 0 {
				cfg.ProxyPort = v
			}
			cfg.ProxyUser = ask("Proxy user (optional)", "")
			cfg.NoProxy = ask("Bypass hosts (comma separated, optional)", "")
		}
	}

	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (` + config.DefaultConfigPath() + `)
  2. .env in the working directory and CSVUP_* environment variables
  3. Command-line flags (--access-key, --upload-url, --exists-url)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			printConfig(cmd.OutOrStdout(), cfg)

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file: %s\n", configPath)
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// printConfig writes cfg in sections. The access key is never shown.
func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Endpoints:")
	fmt.Fprintf(w, "  Exists URL: %s\n", cfg.ExistsURL)
	fmt.Fprintf(w, "  Upload URL: %s\n", cfg.UploadURL)
	if cfg.AccessKey != "" {
		fmt.Fprintf(w, "  Access Key: <set (%d chars)>\n", len(cfg.AccessKey))
	} else {
		fmt.Fprintln(w, "  Access Key: <not set>")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Uploader:")
	fmt.Fprintf(w, "  Max File Size:      %d bytes\n", cfg.MaxFileSize)
	fmt.Fprintf(w, "  Parse Chunk Size:   %d bytes\n", cfg.ParseChunkSize)
	fmt.Fprintf(w, "  Upload Chunk Size:  %d bytes\n", cfg.UploadChunkSize)
	fmt.Fprintf(w, "  Completion Grace:   %s\n", cfg.CompletionGrace)
	fmt.Fprintf(w, "  Parsing Progress:   %t\n", cfg.ShowParsingProgress)
	fmt.Fprintf(w, "  Upload Progress:    %t\n", cfg.ShowUploadProgress)
	fmt.Fprintf(w, "  Reset Control:      %t\n", cfg.ShowReset)
	fmt.Fprintf(w, "  Notifications:      %t\n", cfg.ShowToastNotifications)
	fmt.Fprintf(w, "  Grid Page Size:     %d\n", cfg.PageSize)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(w, "  No Proxy:   %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Resume Directory: %s\n", cfg.ResumeDir)
	if cfg.LogFile != "" {
		fmt.Fprintf(w, "Log File:         %s\n", cfg.LogFile)
	}
	fmt.Fprintln(w)
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the upload and existence endpoints",
		Long: `Test both endpoints with the current configuration.

The upload endpoint receives a tus OPTIONS request; the existence endpoint
is asked about a file name that should not exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if http.NeedsProxyPassword(cfg) {
				if cfg.ProxyPassword, err = promptPassword(fmt.Sprintf("Proxy password for %s", cfg.ProxyUser)); err != nil {
					return err
				}
			}

			fmt.Println("Testing Connection")
			fmt.Println("==================")
			fmt.Println()

			ctx, cancel := context.WithTimeout(GetContext(), constants.APIContextTimeout)
			defer cancel()

			failed := false

			fmt.Printf("Upload URL: %s\n", cfg.UploadURL)
			if version, err := probeTus(ctx, cfg); err != nil {
				logger.Error().Err(err).Msg("Upload endpoint test failed")
				fmt.Printf("  ✗ FAILED: %v\n", err)
				failed = true
			} else {
				fmt.Printf("  ✓ OK (tus %s)\n", version)
			}

			fmt.Printf("Exists URL: %s\n", cfg.ExistsURL)
			client, err := api.NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create existence client: %w", err)
			}
			start := time.Now()
			if _, err := client.FileExists(ctx, "csvup-connection-test.csv"); err != nil {
				logger.Error().Err(err).Msg("Existence endpoint test failed")
				fmt.Printf("  ✗ FAILED: %v\n", err)
				failed = true
			} else {
				fmt.Printf("  ✓ OK (%s)\n", time.Since(start).Round(time.Millisecond))
			}

			fmt.Println()
			if failed {
				return fmt.Errorf("connection test failed")
			}
			logger.Info().Msg("Connection test successful")
			fmt.Println("Both endpoints are reachable.")
			return nil
		},
	}
}

// probeTus sends a tus OPTIONS request and returns the server's Tus-Version.
func probeTus(ctx context.Context, cfg *config.Config) (string, error) {
	client, err := http.CreateOptimizedClient(cfg, GetLogger())
	if err != nil {
		return "", err
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodOptions, cfg.UploadURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK && resp.StatusCode != nethttp.StatusNoContent {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	version := resp.Header.Get("Tus-Version")
	if version == "" {
		return "", fmt.Errorf("server did not announce a tus version")
	}
	return version, nil
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
				fmt.Println("Default configuration path:")
			} else {
				fmt.Println("Configuration path (from --config flag):")
			}

			fmt.Printf("  %s\n", configPath)
			fmt.Println()

			if fileInfo, err := os.Stat(configPath); err == nil {
				fmt.Println("Status: ✓ File exists")
				fmt.Printf("Size:   %d bytes\n", fileInfo.Size())
				fmt.Printf("Modified: %s\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Println("Status: File does not exist")
				fmt.Println()
				fmt.Println("Create a configuration file with: csvup config init")
			}

			return nil
		},
	}
}
