package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/vidtreonou/panamax/internal/model"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printByHost writes each host's output under a "<title> Host: <host>"
// heading, or the outputs as JSON with --json.
func printByHost(w io.Writer, title string, outputs []model.HostOutput) error {
	if IsJSONOutput() {
		return printJSON(w, outputs)
	}

	for _, o := range outputs {
		if o.State != "" {
			fmt.Fprintf(w, "%s Host: %s (%s)\n", title, o.Host, o.State)
		} else {
			fmt.Fprintf(w, "%s Host: %s\n", title, o.Host)
		}
		if o.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", o.Error)
		} else {
			fmt.Fprintln(w, o.Output)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// printTable renders rows under header.
func printTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// printDone reports a completed action.
func printDone(w io.Writer, action string, hosts []string) error {
	if IsJSONOutput() {
		return printJSON(w, map[string]interface{}{
			"action": action,
			"hosts":  hosts,
		})
	}
	_, err := fmt.Fprintf(w, "%s on %d host(s)\n", action, len(hosts))
	return err
}
