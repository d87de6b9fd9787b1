// Command token mints a development access token signed with JWT_SECRET.
//
//	token -user rider-1 -ttl 24h
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/auth"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
)

func main() {
	if err := run(os.Args[1:], config.Load(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(args []string, cfg config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user id to issue the token for")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	token, err := auth.Sign(cfg.JWTSecret, *user, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
