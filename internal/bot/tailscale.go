// ABOUTME: Admin API listener setup: plain TCP, or a tsnet node with
// ABOUTME: optional HTTPS via tailnet certs and public exposure via Funnel

package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/linger/internal/config"
)

// setupListeners creates the admin listener based on configuration (Tailscale or TCP).
func (b *Bot) setupListeners(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		b.warnIgnoredAddress()
		return b.setupTailscaleListener(ctx)
	}
	return b.setupTCPListener()
}

// setupTCPListener creates a standard TCP listener for the admin API.
func (b *Bot) setupTCPListener() (net.Listener, error) {
	b.logger.Info("starting admin API", "http_addr", b.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", b.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning when an explicit server address is
// configured but Tailscale is enabled. The shipped default address does not
// count as operator intent.
func (b *Bot) warnIgnoredAddress() {
	addr := b.config.Server.HTTPAddr
	if addr != "" && addr != config.Default().Server.HTTPAddr {
		b.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", addr,
		)
	}
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "linger", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns the admin listener.
func (b *Bot) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	b.logTailscaleStatus(tsCfg.Hostname, status)

	return b.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (b *Bot) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		b.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	b.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (b *Bot) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		b.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := b.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = b.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return b.createTailscaleTLSListener()
	default:
		ln, err := b.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = b.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (b *Bot) createTailscaleTLSListener() (net.Listener, error) {
	b.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := b.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := b.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
