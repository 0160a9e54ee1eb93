// ABOUTME: Entry point for the sourcing-gateway chat server
// ABOUTME: Cobra commands for serving, health checks and issuing bearer tokens

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/sourcing-gateway/internal/auth"
	"github.com/2389/sourcing-gateway/internal/config"
	"github.com/2389/sourcing-gateway/internal/gateway"
	"github.com/2389/sourcing-gateway/internal/tracing"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _
 ___  ___  _   _ _ __ ___(_)_ __   __ _
/ __|/ _ \| | | | '__/ __| | '_ \ / _' |
\__ \ (_) | |_| | | | (__| | | | | (_| |
|___/\___/ \__,_|_|  \___|_|_| |_|\__, |
                                  |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "sourcing-gateway",
		Short:        "Streaming chat gateway for the procurement assistant",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default $"+config.EnvPath+" or ~/.config/sourcing/gateway.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return config.DefaultPath()
	}

	root.AddCommand(
		buildServeCmd(resolve),
		buildHealthCmd(resolve),
		buildTokenCmd(resolve),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func buildServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), configPath())
		},
	}
}

func buildHealthCmd(configPath func() string) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), baseURL(cfg.Server.HTTPAddr)+path)
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "Check readiness (store and catalog) instead of liveness")
	return cmd
}

func buildTokenCmd(configPath func() string) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, userID, ttl)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runServe(ctx context.Context, out io.Writer, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Model:     %s\n", cfg.LLM.Model)
	green.Fprint(out, "    ▶ ")
	fmt.Fprint(out, "Catalog:   ")
	if cfg.Search.DSN == "" {
		yellow.Fprintln(out, "disabled")
	} else {
		fmt.Fprintln(out, "postgres")
	}
	if cfg.Auth.JWTSecret == "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Auth:      ")
		yellow.Fprintln(out, "trusting X-User-ID")
	}
	fmt.Fprintln(out)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	logger.Info("starting sourcing-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model", cfg.LLM.Model,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// baseURL turns a listen address into a URL on loopback when no host is set.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func runHealth(ctx context.Context, out io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintf(out, "healthy: %s\n", strings.TrimSpace(string(body)))
	return nil
}

func runToken(out io.Writer, cfg config.AuthConfig, userID string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.Issuer)
	if err != nil {
		return err
	}
	token, err := verifier.Generate(strings.TrimSpace(userID), ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
