// Command qrgate-device is a reference device client. It registers the
// device, waits for verification with a bounded poll, and can then keep an
// identity token fresh for display as a QR code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/logging"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func main() {
	fs := flag.NewFlagSet("qrgate-device", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "qrgate server base URL")
	person := fs.String("person", "", "Person id (sent as X-Person-Id)")
	phone := fs.String("phone", "", "Phone number to verify, E.164")
	fingerprint := fs.String("fingerprint", "", "Device fingerprint")
	tokenFile := fs.String("token-file", "", "Write the device trust token here (default stdout)")
	trustToken := fs.String("trust-token", "", "Skip registration and use this device trust token")
	refresh := fs.Bool("refresh", false, "Keep printing fresh identity tokens until interrupted")
	margin := fs.Duration("margin", 10*time.Second, "Refresh identity tokens this long before expiry")
	verbose := fs.Bool("v", false, "Debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New("dev", level, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "qrgate-device: logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *fingerprint == "" || (*trustToken == "" && (*person == "" || *phone == "")) {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient(*server, *person)

	tok := *trustToken
	if tok == "" {
		st, err := enroll(ctx, c, *phone, types.DeviceInfo{Fingerprint: *fingerprint, Platform: "cli"}, logger)
		if err != nil {
			logger.Error("enrollment failed", zap.Error(err))
			os.Exit(1)
		}
		tok = st.DeviceTrustToken
		logger.Info("device verified", zap.String("expires_at", st.TokenExpiresAt))

		if *tokenFile != "" {
			if err := os.WriteFile(*tokenFile, []byte(tok+"\n"), 0o600); err != nil {
				logger.Error("write token file", zap.Error(err))
				os.Exit(1)
			}
		} else {
			fmt.Println(tok)
		}
	}

	if !*refresh {
		return
	}

	err = refreshIdentity(ctx, c, *fingerprint, tok, refreshConfig{
		Margin:     *margin,
		Retries:    3,
		RetryDelay: 2 * time.Second,
	}, func(id types.IdentityTokenResponse) {
		fmt.Println(id.Token)
	}, logger)
	if err != nil {
		logger.Error("identity refresh stopped", zap.Error(err))
		os.Exit(1)
	}
}
