// Package report holds the final metrics of a counting run and renders them
// for the console.
package report

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Run is what the coordinator reports once the group has finished.
type Run struct {
	N        int64         `json:"n"`
	Workers  int           `json:"workers"`
	Distinct int64         `json:"distinct"`
	Cells    int64         `json:"cells"`   // N*N
	Percent  float64       `json:"percent"` // 100 * Distinct / Cells
	Elapsed  time.Duration `json:"elapsed"`
	MaxRSS   uint64        `json:"max_rss"` // bytes; 0 when unknown
	Verified bool          `json:"verified"`
}

// New derives the table size and percentage for a result.
func New(n int64, workers int, distinct int64, elapsed time.Duration) Run {
	r := Run{
		N:        n,
		Workers:  workers,
		Distinct: distinct,
		Cells:    n * n,
		Elapsed:  elapsed,
	}
	if r.Cells > 0 {
		r.Percent = float64(distinct) / (float64(n) * float64(n)) * 100
	}
	return r
}

// Format writes the human-readable report with grouped digits.
func Format(w io.Writer, r Run) error {
	p := message.NewPrinter(language.English)
	lines := []string{
		fmt.Sprintf("M(%d) = ", r.N) + p.Sprintf("%d", r.Distinct),
		p.Sprintf("Total products in table: %d", r.Cells),
		fmt.Sprintf("Percentage of unique products: %.2f%%", r.Percent),
		fmt.Sprintf("Time elapsed: %.6f seconds", r.Elapsed.Seconds()),
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
