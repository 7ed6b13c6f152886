package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Accepted spellings for the ticket-number column. Crewhu's survey-history
// export has varied over time; first matching column wins per row.
var ticketColumnNames = []string{"Ticket#", "Ticket", "Ticket #", "ticket", "ticket#"}

const ratingColumnName = "Rating"

// ReadCSVRows loads a CSV file into header-keyed rows. The export is
// written with a UTF-8 BOM and the delimiter is not fixed, so the BOM is
// stripped and the delimiter sniffed from the header line.
func ReadCSVRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		br.Discard(3)
	}

	header, err := br.Peek(2048)
	if err != nil && len(header) == 0 {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(string(header))
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	columns := all[0]
	rows := make([]map[string]string, 0, len(all)-1)
	for _, record := range all[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sniffDelimiter picks the delimiter that appears most often in the header
// line. Comma wins ties, matching the default Excel dialect.
func sniffDelimiter(header string) rune {
	if idx := strings.IndexByte(header, '\n'); idx >= 0 {
		header = header[:idx]
	}
	best := ','
	bestCount := strings.Count(header, ",")
	for _, cand := range []rune{';', '\t'} {
		if c := strings.Count(header, string(cand)); c > bestCount {
			best, bestCount = cand, c
		}
	}
	return best
}

// rowTicketValue returns the first non-empty ticket cell under any of the
// accepted column spellings.
func rowTicketValue(row map[string]string) (string, bool) {
	for _, col := range ticketColumnNames {
		if v, ok := row[col]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// LoadTicketSet reduces tabular rows to a deduplicated, ascending set of
// ticket IDs. Rows without a valid ticket number are counted as skipped,
// never treated as a hard error.
func LoadTicketSet(rows []map[string]string) (tickets []int, skipped int) {
	seen := make(map[int]bool)
	for _, row := range rows {
		raw, ok := rowTicketValue(row)
		if !ok {
			skipped++
			continue
		}
		id, ok := ParseTicketID(raw)
		if !ok {
			skipped++
			continue
		}
		if !seen[id] {
			seen[id] = true
			tickets = append(tickets, id)
		}
	}
	sort.Ints(tickets)
	return tickets, skipped
}

// LoadRatingRows extracts ticket/rating pairs from tabular rows. The raw
// label is kept as-is; mapping through RatingMap happens on the write
// path so unmapped labels surface as skips in the run tally.
func LoadRatingRows(rows []map[string]string) (ratings []RatingRow, skipped int) {
	for _, row := range rows {
		raw, ok := rowTicketValue(row)
		if !ok {
			skipped++
			continue
		}
		id, ok := ParseTicketID(raw)
		if !ok {
			skipped++
			continue
		}
		ratings = append(ratings, RatingRow{
			TicketID:    id,
			RatingLabel: strings.TrimSpace(row[ratingColumnName]),
		})
	}
	return ratings, skipped
}
