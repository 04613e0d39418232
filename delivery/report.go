package delivery

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// ReportRows is how many decisions the report lists.
const ReportRows = 10

// WriteReport prints the route summary and the first ReportRows decisions.
func WriteReport(w io.Writer, res RouteResult) error {
	rule := strings.Repeat("=", 50)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nDELIVERY REPORT\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Total parcels:         %d\n", res.Parcels)
	if res.Parcels > 0 {
		fmt.Fprintf(&b, "Delivered to mailbox:  %d (%.1f%%)\n", res.Direct, percent(res.Direct, res.Parcels))
		fmt.Fprintf(&b, "Sent to pickup point:  %d (%.1f%%)\n", res.PickupPoint, percent(res.PickupPoint, res.Parcels))
	} else {
		b.WriteString("No parcels processed.\n")
	}

	fmt.Fprintf(&b, "\nDecisions (first %d):\n", ReportRows)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parcel ID", "Mailbox ID", "Parcel Volume", "Mailbox Capacity", "Decision"})
	for i, d := range res.Log {
		if i == ReportRows {
			break
		}
		t.AppendRow(table.Row{d.ParcelID, d.MailboxID, d.Volume.String(), d.Capacity, string(d.Outcome)})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	if n := len(res.Log) - ReportRows; n > 0 {
		fmt.Fprintf(&b, "... and %d more.\n", n)
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}
