package app

import (
	"fmt"
	"io"

	iface "PostkasseVision/interface"

	"github.com/fatih/color"
)

func capacityColor(klasse string) *color.Color {
	switch klasse {
	case iface.KapasitetStor:
		return color.New(color.FgGreen, color.Bold)
	case iface.KapasitetStandard:
		return color.New(color.FgBlue, color.Bold)
	case iface.KapasitetLiten:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// PrintResult writes the analysis result as a list with colored capacity
// badges.
func PrintResult(w io.Writer, res *iface.AnalysisResult) {
	if res == nil {
		return
	}
	if !res.Success {
		color.New(color.FgRed).Fprintln(w, "Analysis reported failure")
		return
	}
	fmt.Fprintf(w, "Found %d mailbox(es)\n", res.Count)
	for _, pk := range res.Postkasser {
		fmt.Fprintf(w, "  %-8s ", pk.ID)
		capacityColor(pk.KapasitetKlasse).Fprintf(w, "[%s]", pk.KapasitetKlasse)
		fmt.Fprintln(w)
	}
}

// Summary is the one-line banner shown in the presenter after a capture.
func Summary(res *iface.AnalysisResult) string {
	if res == nil || !res.Success {
		return "Analysis failed"
	}
	counts := map[string]int{}
	for _, pk := range res.Postkasser {
		counts[pk.KapasitetKlasse]++
	}
	return fmt.Sprintf("%d found: %d STOR, %d STANDARD, %d LITEN",
		res.Count, counts[iface.KapasitetStor], counts[iface.KapasitetStandard], counts[iface.KapasitetLiten])
}
