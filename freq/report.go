package freq

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// WriteTop writes the n most common tokens of table to w, one per line:
// rank, token id, count, share of all tokens and the decoded token.
func WriteTop(w io.Writer, table *Table, decode func([]uint32) string,
	n int) error {
	total := float64(table.Total)
	for rank, entry := range table.Counts.MostCommon(n) {
		share := 0.0
		if total > 0 {
			share = 100 * float64(entry.Count) / total
		}
		if _, err := fmt.Fprintf(w, "%6d %8d %14s %6.2f%% %q\n", rank+1,
			entry.Token, humanize.Comma(int64(entry.Count)), share,
			decode([]uint32{entry.Token})); err != nil {
			return err
		}
	}
	return nil
}
