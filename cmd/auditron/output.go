package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/upb/auditron/models"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q (want one of: %s)", format, strings.Join(allowed, ", "))
}

// writeStructured writes v as indented JSON or YAML
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported output format %q", format)
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	errorColor   = color.New(color.FgYellow, color.Bold)
)

func colorStatus(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return successColor.Sprint(s)
	case models.StatusFailure:
		return failureColor.Sprint(s)
	default:
		return errorColor.Sprint(s)
	}
}

// writeAuditText renders an audit as a table followed by a status tally
func writeAuditText(w io.Writer, resp *models.AuditResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "CONTROL\tSTATUS\tSUMMARY")
	fmt.Fprintln(tw, "-------\t------\t-------")

	counts := make(map[models.Status]int, 3)
	for _, r := range resp.Results {
		counts[r.Status]++
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ControlID, colorStatus(r.Status), r.Summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d controls against %s: %d %s, %d %s, %d %s\n",
		len(resp.Results), resp.Provider.Label(),
		counts[models.StatusSuccess], colorStatus(models.StatusSuccess),
		counts[models.StatusFailure], colorStatus(models.StatusFailure),
		counts[models.StatusError], colorStatus(models.StatusError))
	return err
}

// writeToolsText renders the discovery payload grouped by provider
func writeToolsText(w io.Writer, tools *models.ToolsResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, p := range models.Providers {
		fmt.Fprintf(tw, "%s (%d)\n", p.Label(), len(tools.Providers[p]))
		for _, t := range tools.Providers[p] {
			fmt.Fprintf(tw, "  %s\t%s\n", t.ID, t.Description)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d controls\n", tools.ToolCount)
	return err
}
