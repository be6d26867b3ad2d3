package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/config"
	"github.com/calbridge/calbridge/internal/httpserver"
	"github.com/calbridge/calbridge/internal/logging"
	"github.com/calbridge/calbridge/internal/storage"
)

func main() {
	var (
		hashPassword string
		name         string
		caldavURL    string
		username     string
		password     string
		icsPath      string
		public       bool
		publicPath   string
		intervalSecs int64
	)
	flag.StringVar(&hashPassword, "hash-password", "", "Print an argon2id hash for AUTH_PASSWORD and exit")
	flag.StringVar(&name, "name", "", "Source display name (required)")
	flag.StringVar(&caldavURL, "caldav-url", "", "CalDAV base URL (required)")
	flag.StringVar(&username, "username", "", "CalDAV username")
	flag.StringVar(&password, "password", "", "CalDAV password")
	flag.StringVar(&icsPath, "ics-path", "", "Serving path for the aggregated feed (required)")
	flag.BoolVar(&public, "public", false, "Serve the feed anonymously")
	flag.StringVar(&publicPath, "public-path", "", "Separate anonymous alias path (optional)")
	flag.Int64Var(&intervalSecs, "interval", 3600, "Auto-sync interval in seconds (0 disables)")
	flag.Parse()

	if hashPassword != "" {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			fmt.Fprintf(os.Stderr, "salt: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(auth.EncodePHC(hashPassword, salt, 3, 64*1024, 4))
		return
	}

	if name == "" || caldavURL == "" || icsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: calbridge-admin -name <name> -caldav-url <url> -ics-path <path> [-username <u>] [-password <p>] [-public] [-public-path <path>] [-interval <secs>]")
		fmt.Fprintln(os.Stderr, "       calbridge-admin -hash-password <password>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger = logger.With().Str("component", "admin").Logger()

	store, err := httpserver.OpenStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage init: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	in := &storage.CreateSource{
		Name:             name,
		CalDAVURL:        caldavURL,
		Username:         username,
		Password:         password,
		ICSPath:          icsPath,
		PublicICS:        public,
		SyncIntervalSecs: intervalSecs,
	}
	if publicPath != "" {
		in.PublicICSPath = &publicPath
	}

	src, err := store.CreateSource(context.Background(), in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create source: %v\n", err)
		os.Exit(1)
	}

	logger.Info().
		Int64("id", src.ID).
		Str("name", src.Name).
		Str("ics_path", src.ICSPath).
		Msg("source created")

	fmt.Printf("Created source id=%d name=%q ics_path=%s\n", src.ID, src.Name, src.ICSPath)
}
