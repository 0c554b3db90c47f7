// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Formatter renders command results
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a formatter writing to stdout
func NewFormatter(format string) (*Formatter, error) {
	switch f := OutputFormat(format); f {
	case FormatTable, FormatJSON, FormatYAML:
		return &Formatter{format: f, writer: os.Stdout}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Print writes v as JSON or YAML, or calls table for the table format
func (f *Formatter) Print(v any, table func(f *Formatter)) error {
	switch f.format {
	case FormatJSON:
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = f.writer.Write(out)
		return err
	default:
		table(f)
		return nil
	}
}

// PrintTable prints rows under headers without borders
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(f.writer)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(headers)
	table.AppendBulk(rows)
	table.Render()
}

// PrintKeyValue prints pairs in the given key order
func (f *Formatter) PrintKeyValue(pairs map[string]any, order []string) {
	width := 0
	for _, key := range order {
		width = max(width, len(key))
	}
	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", width, key, val)
		}
	}
}
