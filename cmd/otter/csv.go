package main

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/pkg/errors"
)

// missingTokens are cell values read as missing.
var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true,
}

var timeLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

// loadCSV reads a delimited file; a .tsv extension selects tabs.
func loadCSV(path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDataError("", "cannot open "+path+": "+err.Error())
	}
	defer f.Close()
	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	return readDelimited(f, comma)
}

func readCSV(r io.Reader) (*dataset.Dataset, error) { return readDelimited(r, ',') }

// readDelimited reads a header row and infers each column's kind: numeric
// when every present cell parses as a number, time when every present cell
// parses with one layout, otherwise string.
func readDelimited(r io.Reader, comma rune) (*dataset.Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = comma != '\t'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.NewDataError("", "malformed csv: "+err.Error())
	}
	if len(records) < 2 {
		return nil, errors.NewDataError("", "csv needs a header and at least one row")
	}
	header, rows := records[0], records[1:]

	cols := make([]dataset.Column, len(header))
	cells := make([]string, len(rows))
	for j, name := range header {
		for i, rec := range rows {
			cells[i] = strings.TrimSpace(rec[j])
		}
		cols[j] = inferColumn(strings.TrimSpace(name), cells)
	}
	return dataset.New(cols...)
}

func inferColumn(name string, cells []string) dataset.Column {
	missing := make([]bool, len(cells))
	present := 0
	for i, c := range cells {
		missing[i] = missingTokens[strings.ToLower(c)]
		if !missing[i] {
			present++
		}
	}
	if present > 0 {
		if nums, ok := parseNumbers(cells, missing); ok {
			return dataset.NewNumeric(name, nums)
		}
		if times, ok := parseTimes(cells, missing); ok {
			return dataset.NewTime(name, times)
		}
	}
	valid := make([]bool, len(cells))
	for i := range cells {
		valid[i] = !missing[i]
	}
	return dataset.NewString(name, cells, valid)
}

func parseNumbers(cells []string, missing []bool) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		if missing[i] {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func parseTimes(cells []string, missing []bool) ([]time.Time, bool) {
	for _, layout := range timeLayouts {
		if out, ok := parseLayout(cells, missing, layout); ok {
			return out, true
		}
	}
	return nil, false
}

func parseLayout(cells []string, missing []bool, layout string) ([]time.Time, bool) {
	out := make([]time.Time, len(cells))
	for i, c := range cells {
		if missing[i] {
			continue
		}
		t, err := time.Parse(layout, c)
		if err != nil {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}
