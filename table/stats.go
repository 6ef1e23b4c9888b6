package table

import (
	"fmt"
	"io"
	"sort"
)

// IntAverages computes the arithmetic mean of every int64 column with at
// least one row.
func (t *Table) IntAverages() map[string]float64 {
	averages := make(map[string]float64)

	for _, name := range t.order {
		data, ok := t.columns[name].(Int64Data)
		if !ok || len(data) == 0 {
			continue
		}

		var sum int64
		for _, v := range data {
			sum += v
		}
		averages[name] = float64(sum) / float64(len(data))
	}

	return averages
}

// ASCIICounts counts ASCII characters per varchar column, keyed by column
// name then character. Non-ASCII runes are skipped.
func (t *Table) ASCIICounts() map[string]map[rune]int {
	counts := make(map[string]map[rune]int)

	for _, name := range t.order {
		data, ok := t.columns[name].(VarcharData)
		if !ok {
			continue
		}

		perColumn := make(map[rune]int)
		for _, s := range data {
			for _, ch := range s {
				if ch < 128 {
					perColumn[ch]++
				}
			}
		}
		counts[name] = perColumn
	}

	return counts
}

// TotalASCIICount returns the total number of ASCII characters in the named
// varchar column, or false if the column is missing or not varchar.
func (t *Table) TotalASCIICount(name string) (int, bool) {
	data, ok := t.columns[name].(VarcharData)
	if !ok {
		return 0, false
	}

	total := 0
	for _, s := range data {
		for _, ch := range s {
			if ch < 128 {
				total++
			}
		}
	}

	return total, true
}

// WriteMetrics writes a human-readable metrics report for the table, used by
// the file inspection tool.
func (t *Table) WriteMetrics(w io.Writer) {
	fmt.Fprintf(w, "Total rows: %d\n", t.rowNum)
	fmt.Fprintf(w, "Total columns: %d\n", len(t.columns))

	averages := t.IntAverages()
	if len(averages) > 0 {
		fmt.Fprintln(w, "\nInteger column averages:")
		names := make([]string, 0, len(averages))
		for name := range averages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %.4f\n", name, averages[name])
		}
	}

	counts := t.ASCIICounts()
	if len(counts) > 0 {
		fmt.Fprintln(w, "\nVarchar column ASCII character counts:")
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if total, ok := t.TotalASCIICount(name); ok {
				fmt.Fprintf(w, "  %s: %d total ASCII characters\n", name, total)
			}
		}
	}
}
