// Command redirect-audit inspects a redirect rule file offline: it resolves
// paths, lists chains and loops, runs the full audit and converts between
// the csv, json and yaml rule formats.
package main

import (
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFindings) {
			log.Error().Err(err).Msg("redirect-audit failed")
		}
		os.Exit(1)
	}
}
