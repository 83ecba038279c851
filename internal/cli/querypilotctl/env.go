package querypilotctl

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	envAPIURL  = "QUERYPILOT_API_URL"
	envTimeout = "QUERYPILOT_CLI_TIMEOUT"
)

func OptionsFromEnv(lookup func(string) (string, bool), warn io.Writer) Options {
	get := func(key string) string {
		if lookup == nil {
			return ""
		}
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	var opts Options
	opts.BaseURL = get(envAPIURL)
	if raw := get(envTimeout); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			if warn != nil {
				_, _ = fmt.Fprintf(warn, "ignoring %s=%q\n", envTimeout, raw)
			}
		} else {
			opts.Timeout = parsed
		}
	}
	return opts
}
