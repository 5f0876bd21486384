// Package waferflat parses wafer flatness reports into plg_wf_flat.
//
// A report starts with "Key: Value" metadata lines followed by a CSV block
// whose header row begins with "Point#". Header names are normalized into
// column names; every data row becomes one table row carrying the metadata.
package waferflat

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/ingest"
	"fabingest/internal/services"
)

const (
	// Kind is the manifest kind that selects this parser.
	Kind = "waferflat"
	// TableName is the destination table.
	TableName = "plg_wf_flat"

	defaultVersion = "2.0.0"
	headerMarker   = "point#"
)

var (
	whitespace   = regexp.MustCompile(`\s+`)
	headerStrip  = regexp.MustCompile(`[#/.\-()]`)
	invalidIdent = regexp.MustCompile(`[^a-z0-9_]`)
	firstNumber  = regexp.MustCompile(`\d+`)
)

// metaColumns maps metadata keys onto the fixed columns every row carries.
var metaColumns = []struct {
	column string
	key    string
}{
	{"cassettercp", "cassette recipe name"},
	{"stagercp", "stage recipe name"},
	{"stagegroup", "stage group name"},
	{"lotid", "lot id"},
	{"film", "film name"},
}

// NormalizeHeader lowercases a CSV header, turns whitespace runs into
// underscores and strips punctuation. Anything else that is not a valid
// column character becomes an underscore.
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = whitespace.ReplaceAllString(h, "_")
	h = headerStrip.ReplaceAllString(h, "")
	h = invalidIdent.ReplaceAllString(h, "_")
	if h == "" {
		return ""
	}
	if h[0] >= '0' && h[0] <= '9' {
		h = "c_" + h
	}
	return h
}

// Report is a parsed flatness report.
type Report struct {
	Meta    map[string]string
	Headers []string
	Rows    [][]any
}

// Parse splits lines into metadata and data rows. It returns false when no
// header row is present.
func Parse(lines []string) (Report, bool) {
	report := Report{Meta: make(map[string]string)}
	headerIndex := -1
	for i, line := range lines {
		if headerIndex < 0 && strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), headerMarker) {
			headerIndex = i
			continue
		}
		if headerIndex >= 0 {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			report.Meta[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
	}
	if headerIndex < 0 {
		return report, false
	}

	raw := strings.Split(lines[headerIndex], ",")
	used := make(map[string]int, len(raw))
	for i, h := range raw {
		name := NormalizeHeader(h)
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			used[name] = 1
		}
		report.Headers = append(report.Headers, name)
	}

	for _, line := range lines[headerIndex+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		values := strings.Split(line, ",")
		if len(values) < len(report.Headers) {
			continue
		}
		row := make([]any, len(report.Headers))
		for i := range report.Headers {
			row[i] = ParseValue(values[i])
		}
		report.Rows = append(report.Rows, row)
	}
	return report, true
}

// ParseValue returns nil for blanks, then an int, a float or the trimmed
// string, whichever parses first.
func ParseValue(value string) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// WaferNumber extracts the first run of digits in a wafer id.
func WaferNumber(id string) (int, bool) {
	digits := firstNumber.FindString(id)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// Plugin is the wafer flatness parser.
type Plugin struct {
	plugin.Base

	deps ingest.Deps
	enc  encoding.Encoding
}

// New is the catalog factory.
func New(spec plugin.Spec) (plugin.Plugin, error) {
	if spec.Version == "" {
		spec.Version = defaultVersion
	}
	return &Plugin{Base: plugin.NewBase(spec)}, nil
}

func (p *Plugin) Initialize(loc services.Locator) error {
	if err := p.Base.Initialize(loc); err != nil {
		return err
	}
	deps, err := ingest.Resolve(loc)
	if err != nil {
		return err
	}
	p.deps = deps
	p.enc, err = ingest.LookupEncoding(deps.Options.String("encoding", ingest.DefaultEncoding))
	return err
}

func (p *Plugin) Process(ctx context.Context, path string, _ ...any) error {
	name := filepath.Base(path)
	p.Log.LogEvent(fmt.Sprintf("[%s] Processing file: %s", p.Name(), path))

	lines, err := ingest.ReadLines(path, p.enc)
	if err != nil {
		return err
	}
	report, ok := Parse(lines)
	if !ok || len(report.Rows) == 0 {
		p.Log.LogDebug(fmt.Sprintf("[%s] No valid wafer flat data found in: %s", p.Name(), name))
		return nil
	}

	table := p.buildTable(report)
	inserted, err := p.deps.DB.BulkInsert(ctx, table, TableName)
	if err != nil {
		return fmt.Errorf("insert %s rows from %s: %w", TableName, name, err)
	}
	p.Log.LogEvent(fmt.Sprintf("[%s] %d of %d row(s) written to %s from %s.", p.Name(), inserted, table.Len(), TableName, name))
	return nil
}

func (p *Plugin) buildTable(report Report) services.Table {
	var (
		waferID  any
		measured any
		servTS   any
	)
	if id, ok := report.Meta["wafer id"]; ok {
		if n, ok := WaferNumber(id); ok {
			waferID = n
		}
	}
	if raw, ok := report.Meta["date and time"]; ok {
		if ts, ok := ingest.ParseLocal(raw, ingest.GeneralLayouts...); ok {
			measured = ts
			servTS = p.deps.Clock.Synchronize(ts)
		}
	}

	present := make(map[string]bool, len(report.Headers))
	for _, h := range report.Headers {
		present[h] = true
	}
	// Header columns win over metadata columns of the same name.
	type extra struct {
		column string
		value  any
	}
	extras := []extra{{"eqpid", p.deps.EQPID}}
	for _, mc := range metaColumns {
		var value any
		if v, ok := report.Meta[mc.key]; ok {
			value = v
		}
		extras = append(extras, extra{mc.column, value})
	}
	extras = append(extras,
		extra{"waferid", waferID},
		extra{"datetime", measured},
		extra{"serv_ts", servTS},
	)

	table := services.Table{Columns: append([]string(nil), report.Headers...)}
	var extraValues []any
	for _, e := range extras {
		if present[e.column] {
			continue
		}
		table.Columns = append(table.Columns, e.column)
		extraValues = append(extraValues, e.value)
	}
	if present["point"] {
		table.Key = []string{"eqpid", "lotid", "waferid", "datetime", "point"}
	}

	for _, row := range report.Rows {
		full := make([]any, 0, len(table.Columns))
		full = append(full, row...)
		full = append(full, extraValues...)
		table.AddRow(full...)
	}
	return table
}
