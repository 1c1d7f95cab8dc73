/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: logDate,
	NoColor:    true,
}).With().Timestamp().Logger()

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	logger.Info().Msgf(format, args...)
}

// errorf logs regardless of --verbose.
func errorf(format string, args ...any) {
	logger.Error().Msgf(format, args...)
}

func drainErrors(errs <-chan error) {
	for err := range errs {
		errorf("SERVE: %v", err)
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
