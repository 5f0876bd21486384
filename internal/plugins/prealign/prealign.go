// Package prealign parses pre-aligner position logs into plg_prealign.
package prealign

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/ingest"
	"fabingest/internal/services"
)

const (
	// Kind is the manifest kind that selects this parser.
	Kind = "prealign"
	// TableName is the destination table.
	TableName = "plg_prealign"

	defaultVersion = "2.0.0"
)

var linePattern = regexp.MustCompile(`(?i)Xmm\s*([-\d.]+)\s*Ymm\s*([-\d.]+)\s*Notch\s*([-\d.]+)\s*Time\s*([\d\-:\s]+)`)

// timeLayouts are tried before the general layouts.
var timeLayouts = append([]string{"01-02-06 15:04:05", "1-2-06 15:04:05"}, ingest.GeneralLayouts...)

// Sample is one aligner reading.
type Sample struct {
	Time  time.Time
	X     float64
	Y     float64
	Notch float64
}

// ParseLine extracts a sample from line.
func ParseLine(line string) (Sample, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}
	var (
		s   Sample
		err error
	)
	if s.X, err = strconv.ParseFloat(m[1], 64); err != nil {
		return Sample{}, false
	}
	if s.Y, err = strconv.ParseFloat(m[2], 64); err != nil {
		return Sample{}, false
	}
	if s.Notch, err = strconv.ParseFloat(m[3], 64); err != nil {
		return Sample{}, false
	}
	ts, ok := ingest.ParseLocal(strings.TrimSpace(m[4]), timeLayouts...)
	if !ok {
		return Sample{}, false
	}
	s.Time = ts
	return s, true
}

// Plugin is the pre-aligner parser.
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
	table := services.Table{
		Columns: []string{"eqpid", "datetime", "xmm", "ymm", "notch", "serv_ts"},
		Key:     []string{"eqpid", "datetime"},
	}
	for _, line := range lines {
		s, ok := ParseLine(line)
		if !ok {
			continue
		}
		table.AddRow(p.deps.EQPID, s.Time, s.X, s.Y, s.Notch, p.deps.Clock.Synchronize(s.Time))
	}
	if table.Len() == 0 {
		p.Log.LogDebug(fmt.Sprintf("[%s] No valid prealign data found in: %s", p.Name(), name))
		return nil
	}

	inserted, err := p.deps.DB.BulkInsert(ctx, table, TableName)
	if err != nil {
		return fmt.Errorf("insert %s rows from %s: %w", TableName, name, err)
	}
	p.Log.LogEvent(fmt.Sprintf("[%s] %d of %d row(s) written to %s from %s.", p.Name(), inserted, table.Len(), TableName, name))
	return nil
}
