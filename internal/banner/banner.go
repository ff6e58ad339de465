package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
======================================================================
  ____      _ _                     _
 / ___|__ _| | |___  ___ _ ____   _(_) ___ ___
| |   / _` + "`" + ` | | / __|/ _ \ '__\ \ / / |/ __/ _ \
| |__| (_| | | \__ \  __/ |   \ V /| | (_|  __/
 \____\__,_|_|_|___/\___|_|    \_/ |_|\___\___|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Line builds a ConfigLine, rendering empty values as "disabled".
func Line(label, value string) ConfigLine {
	if value == "" {
		value = "disabled"
	}
	return ConfigLine{Label: label, Value: value}
}

// Print writes the startup banner with the service name and configuration
func Print(w io.Writer, serviceName string, config []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintf(w, "%s\n", serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}

	for _, c := range config {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Fprintf(w, "  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready.")
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
