// webls server
//
// Features:
// - Sandboxed listing, download, upload, copy, move, delete and mkdir
// - Shared-secret gate with short-lived tokens
// - SSE change notifications (+ optional filesystem watcher)
// - Optional WebDAV mount of the same root
// - Prometheus metrics & structured logging (zap)
// - QR code of the server address for phones on the LAN
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/internal/api"
	"github.com/mahmoud-eltahawy/webls/internal/auth"
	"github.com/mahmoud-eltahawy/webls/internal/config"
	"github.com/mahmoud-eltahawy/webls/internal/events"
	"github.com/mahmoud-eltahawy/webls/internal/fileops"
	"github.com/mahmoud-eltahawy/webls/internal/lister"
	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/internal/quota"
	"github.com/mahmoud-eltahawy/webls/internal/watcher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("webls server starting...",
		zap.String("root", cfg.Root),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	if cfg.UsesDefaultPassword() {
		logging.Warn("using the default password, set WEBLS_PASSWORD before exposing the server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc, err := config.NewRootContext(cfg)
	if err != nil {
		logging.Fatal("invalid root", zap.Error(err))
	}

	// Initialize auth
	password, hash := rc.Secret()
	gate, err := auth.NewGate(auth.Config{
		Password:     password,
		PasswordHash: hash,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.TokenTTL,
	})
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	rateLimiter := quota.NewRateLimiter()

	// Optional filesystem watcher for changes made outside the server
	if cfg.Watch {
		w := watcher.New(rc.Sandbox(), broadcaster, 0)
		if err := w.Start(ctx); err != nil {
			logging.Error("watcher failed to start", zap.Error(err))
		} else {
			defer w.Stop()
			logging.Info("filesystem watcher started")
		}
	}

	ops := fileops.New(rc.Sandbox(), fileops.Config{MaxUploadSize: cfg.MaxUploadSize})
	ls := lister.New(rc.Sandbox(), lister.Config{ShowHidden: cfg.ShowHidden})

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	advertised := advertisedURL(cfg, useTLS)
	if cfg.PublicURL == "" {
		cfg.PublicURL = advertised
	}

	// Create API server
	srv := api.NewServer(rc, ops, ls, gate, broadcaster, rateLimiter, cfg)

	// Start metrics server
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	// Periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(time.Hour)
			}
		}
	}()

	printBanner(advertised, rc.Root())

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

// advertisedURL is the address other devices on the LAN should use.
func advertisedURL(cfg *config.Config, useTLS bool) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		port = "3000"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = outboundIP()
	}
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, port))
}

// outboundIP asks the OS which local address it would use to reach the
// internet. UDP dial sends no packets.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		logging.Warn("could not detect LAN address", zap.Error(err))
		return "localhost"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func printBanner(url, root string) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		logging.Warn("could not render QR code", zap.Error(err))
		return
	}
	fmt.Println(q.ToString(false))
	fmt.Println("----------------------------------------")
	fmt.Printf("Serving: %s\n", root)
	fmt.Printf("Scan above or visit: %s\n", url)
	fmt.Println("----------------------------------------")
}
