package app

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/curation/internal/httpapi"
	"horse.fit/curation/internal/review"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 0)
	host := fs.String("host", "", "Listen host (overrides HTTP_HOST)")
	port := fs.Int("port", 0, "Listen port (overrides HTTP_PORT)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	sess, err := openSession("serve", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	listenHost := sess.cfg.HTTPHost
	if strings.TrimSpace(*host) != "" {
		listenHost = strings.TrimSpace(*host)
	}
	listenPort := sess.cfg.HTTPPort
	if *port > 0 {
		listenPort = *port
	}

	queue := review.NewQueue(sess.pool, sess.logger, sess.cfg.DefaultReportType)
	server := httpapi.NewServer(sess.pool, queue, sess.metrics, sess.logger, httpapi.Options{
		Host: listenHost,
		Port: listenPort,
	})
	if err := server.Start(sess.ctx); err != nil {
		sess.logger.Error().Err(err).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
