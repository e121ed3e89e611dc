// Package commands implements the gobanchoctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gobancho/internal/rpc"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is
// not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of sessions in the requested format.
func formatSessions(sessions []rpc.SessionData, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(sessions)
	case formatYAML:
		return marshalYAML(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSession renders a single session in the requested format.
func formatSession(session rpc.SessionData, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(session)
	case formatYAML:
		return marshalYAML(session)
	case formatTable:
		return formatSessionDetail(session), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatEvent renders a session event in the requested format.
func formatEvent(event *rpc.SessionEventMessage, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(event)
	case formatYAML:
		return marshalYAML(event)
	case formatTable:
		return fmt.Sprintf("%s  %-9s  user=%d (%s)  session=%s",
			event.Timestamp.Format(time.RFC3339),
			event.Type, event.UserID, event.Username, event.SessionID), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// marshalJSON renders v as indented JSON.
func marshalJSON(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(out), nil
}

// marshalYAML renders v as YAML.
func marshalYAML(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(out), nil
}

// formatSessionsTable renders a compact session table.
func formatSessionsTable(sessions []rpc.SessionData) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "SESSION ID\tUSER ID\tUSERNAME\tIP\tCOUNTRY\tQUEUED\tLAST ACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.UserID, s.Username, s.IP,
			orNA(s.Country), s.QueuedPackets,
			time.Unix(s.LastActive, 0).Format(time.RFC3339),
		)
	}
	w.Flush()

	fmt.Fprintf(&sb, "\n%d session(s)\n", len(sessions))
	return sb.String()
}

// formatSessionDetail renders one session as a key/value listing.
func formatSessionDetail(s rpc.SessionData) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Session ID:\t%s\n", s.ID)
	fmt.Fprintf(w, "User ID:\t%d\n", s.UserID)
	fmt.Fprintf(w, "Username:\t%s\n", s.Username)
	if s.UsernameUnicode != "" {
		fmt.Fprintf(w, "Username (unicode):\t%s\n", s.UsernameUnicode)
	}
	fmt.Fprintf(w, "Privileges:\t0x%x\n", s.Privileges)
	fmt.Fprintf(w, "Client version:\t%s\n", orNA(s.ClientVersion))
	fmt.Fprintf(w, "IP:\t%s\n", s.IP)
	fmt.Fprintf(w, "Country:\t%s\n", orNA(s.Country))
	fmt.Fprintf(w, "City:\t%s\n", orNA(s.City))
	fmt.Fprintf(w, "Created:\t%s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Last active:\t%s\n", time.Unix(s.LastActive, 0).Format(time.RFC3339))
	fmt.Fprintf(w, "Queued packets:\t%d\n", s.QueuedPackets)
	fmt.Fprintf(w, "Notify cursor:\t%s\n", s.NotifyCursor)
	fmt.Fprintf(w, "Action:\t%d (%s)\n", s.Status.Action, orNA(s.Status.Info))
	w.Flush()

	return sb.String()
}

// orNA substitutes N/A for empty strings.
func orNA(s string) string {
	if s == "" {
		return valueNA
	}
	return s
}
