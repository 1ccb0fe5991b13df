// Command sessionwatch follows the Intune connection state of a running bridge the way
// the browser client does, printing every change it commits.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/intune-bridge/internal/logging"
	"github.com/jrsteele09/intune-bridge/reconciler"
	"github.com/rs/zerolog"
)

func main() {
	var (
		baseURL      = flag.String("base-url", "http://localhost:8000", "bridge base URL")
		cookieHeader = flag.String("cookie", "", "session cookies copied from the browser, as a Cookie header value")
		poll         = flag.Duration("poll", reconciler.DefaultPollInterval, "status poll interval")
		timeout      = flag.Duration("post-redirect-timeout", reconciler.DefaultPostRedirectTimeout, "how long to wait for the first status after a login redirect")
		markerPath   = flag.String("marker", "", "redirect marker file; when present, the first check runs in post-redirect mode")
		logLevel     = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logging.New("DEV", *logLevel)
	if err := run(*baseURL, *cookieHeader, *poll, *timeout, *markerPath, log); err != nil {
		log.Fatal().Err(err).Msg("sessionwatch failed")
	}
}

func run(baseURL, cookieHeader string, poll, timeout time.Duration, markerPath string, log zerolog.Logger) error {
	client, err := newClient(baseURL, cookieHeader)
	if err != nil {
		return err
	}

	var marker reconciler.RedirectMarker = &reconciler.MemoryMarker{}
	if markerPath != "" {
		marker = &reconciler.FileMarker{Path: markerPath, MaxAge: 10 * time.Minute}
	}

	r := reconciler.New(reconciler.NewHTTPStatusFetcher(baseURL, client), reconciler.Options{
		PostRedirectTimeout: timeout,
		PollInterval:        poll,
		Marker:              marker,
		Logger:              log,
		OnChange: func(v reconciler.View) {
			event := log.Info()
			if v.Error != "" {
				event = log.Warn().Str("error", v.Error)
			}
			event.Bool("connected", v.IsConnected).
				Str("tenant_id", v.TenantID).
				Str("tenant_name", v.TenantName).
				Bool("loading", v.IsLoadingStatus).
				Msg("connection state")
		},
	})
	r.Start()
	defer r.Stop()

	// SIGHUP forces an immediate check, as a login redirect landing would
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			r.CheckNow()
			continue
		}
		return nil
	}
	return nil
}

// newClient seeds a cookie jar with the browser's session cookies for baseURL
func newClient(baseURL, cookieHeader string) (*http.Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if cookieHeader != "" {
		cookies, err := http.ParseCookie(strings.TrimPrefix(cookieHeader, "Cookie: "))
		if err != nil {
			return nil, fmt.Errorf("parse cookie header: %w", err)
		}
		jar.SetCookies(u, cookies)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}, nil
}
