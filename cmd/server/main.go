package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/factory"
	"phone-auth-service/internal/handler"
	"phone-auth-service/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		serve(f, server, false)
		return
	}

	tlsManager := f.TLSManager()
	server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	server.TLSConfig = tlsManager.GetTLSConfig()

	if acm := tlsManager.AutocertManager(); acm != nil && cfg.IsProduction() {
		startWithAutoCert(f, server, cfg, acm.HTTPHandler(nil))
		return
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
	)
	serve(f, server, true)
}

func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	authHandler := handler.NewAuthHandler(f.ServiceFactory().AuthService(), f.Logger())
	return handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequireHTTPS:   cfg.Server.RequireHTTPS && cfg.Server.EnableTLS,
		AuthEnabled:    cfg.Auth.Enabled,
	}, authHandler, f, f, f.Logger())
}

// startWithAutoCert serves the API on 443 and ACME challenges plus HTTPS
// redirects on 80.
func startWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, challenge http.Handler) {
	server.Addr = ":443"
	httpServer := &http.Server{
		Addr:        ":80",
		Handler:     challenge,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		util.Info("Starting ACME challenge server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("ACME challenge server failed", util.ErrorField(err))
		}
	}()

	util.Info("Starting HTTPS server with AutoCert on port 443", util.String("domain", cfg.Server.Domain))
	serve(f, server, true, httpServer)
}

// serve runs server until SIGINT/SIGTERM or a listener failure, then shuts
// down every server before the factory is closed by main.
func serve(f *factory.Factory, server *http.Server, useTLS bool, extra ...*http.Server) {
	listenErr := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			// Certificates come from TLSConfig.GetCertificate.
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	util.Info("Server started",
		util.String("environment", f.Config().Environment),
		util.Bool("tls_enabled", useTLS),
		util.String("address", server.Addr),
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case err := <-listenErr:
		util.Error("Server failed", util.ErrorField(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.Config().Server.ShutdownTimeout)
	defer cancel()

	for _, srv := range append([]*http.Server{server}, extra...) {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		}
	}
	util.Info("Servers stopped")
}
