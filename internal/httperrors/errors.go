// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httperrors renders error records as user-friendly terminal messages.
package httperrors

import (
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/pterm/pterm"

	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/logging"
)

// Message is what the user sees for one failure.
type Message struct {
	Icon  string
	Title string
	Lines []string
	// Details is shown at debug level only.
	Details string
}

// Describe builds the message for err while doing action on host.
func Describe(err error, action, host string) Message {
	e := rerrors.Normalize(err, rerrors.TransportFailure)

	switch e.Kind {
	case rerrors.TransportFailure:
		return describeTransport(e, action, host)

	case rerrors.HTTPFailure:
		m := Message{
			Icon:    "⚠️ ",
			Title:   fmt.Sprintf("Server answered %d %s while %s", e.HTTPStatus, e.HTTPMessage, action),
			Details: e.Cause,
		}
		if e.HTTPStatus >= 500 {
			m.Lines = []string{
				"The server or a proxy in front of it failed to handle the request.",
				"  • Check that the remote SQL servlet is deployed at " + host,
				"  • Try again in a few moments",
			}
		} else {
			m.Lines = []string{
				"The response was not a status envelope. Check:",
				"  • The server URL points at the remote SQL endpoint, not a web page",
				"  • Proxy settings, if a proxy is configured",
			}
		}
		return m

	case rerrors.ProtocolFailure:
		return Message{
			Icon:    "❌",
			Title:   fmt.Sprintf("Server rejected the request while %s", action),
			Lines:   []string{e.Message},
			Details: e.StackTrace,
		}

	case rerrors.ContractViolation:
		return Message{
			Icon:  "❌",
			Title: fmt.Sprintf("Unexpected server response while %s", action),
			Lines: []string{
				e.Message,
				"The server may run an incompatible version.",
			},
		}

	case rerrors.Cancelled:
		return Message{Icon: "⏹ ", Title: fmt.Sprintf("Cancelled while %s", action)}

	case rerrors.PreconditionFailed:
		return Message{Icon: "❌", Title: e.Message}

	default:
		return Message{
			Icon:    "❌",
			Title:   fmt.Sprintf("Failed while %s", action),
			Lines:   []string{e.Message},
			Details: e.Cause,
		}
	}
}

func describeTransport(e *rerrors.E, action, host string) Message {
	m := Message{Details: e.Cause}

	switch e.Reason {
	case rerrors.ReasonTimeout:
		m.Icon = "⏱️ "
		m.Title = "Connection timeout while " + action
		m.Lines = []string{
			"The server took too long to respond. This could mean:",
			"  • Slow network connection",
			"  • Server is under heavy load",
			"  • A long-running statement exceeded the read timeout",
		}
	case rerrors.ReasonDNS:
		m.Icon = "🌐"
		m.Title = "Cannot resolve server address while " + action
		m.Lines = []string{
			"Unable to look up " + host + ". Please check:",
			"  • Your network connection is working",
			"  • DNS settings are correct",
		}
	case rerrors.ReasonRefused:
		m.Icon = "🚫"
		m.Title = "Connection refused while " + action
		m.Lines = []string{
			"The server is not accepting connections. This could mean:",
			"  • The service is down",
			"  • Wrong server address or port",
		}
	case rerrors.ReasonTLS:
		m.Icon = "🔒"
		m.Title = "Secure connection failed while " + action
		m.Lines = []string{
			"Cannot establish a secure HTTPS connection. Check:",
			"  • The server certificate",
			"  • Proxy settings",
			"  • Your system clock",
		}
	default:
		m.Icon = "❌"
		m.Title = fmt.Sprintf("Cannot connect to %s while %s", host, action)
		m.Lines = []string{
			"Please check your network connection and firewall settings.",
		}
	}
	return m
}

// Show prints the message for err and returns err unchanged.
func Show(err error, action, serverURL string) error {
	if err == nil {
		return nil
	}

	m := Describe(err, action, ExtractHostFromURL(serverURL))

	pterm.Printf("%s %s\n", m.Icon, m.Title)
	if len(m.Lines) > 0 {
		pterm.Println()
		for _, l := range m.Lines {
			pterm.Println(logging.Mask(l))
		}
	}
	pterm.Println()

	if m.Details != "" {
		pterm.Debug.Printf("Technical details: %s\n", truncate(logging.Mask(m.Details), 300))
	}
	return err
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// ExtractHostFromURL extracts the hostname from a URL for error messages.
func ExtractHostFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "server"
	}
	return u.Host
}
