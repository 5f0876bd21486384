// Package errorlog parses equipment error logs into the plg_error table.
//
// Each line has the form
//
//	<id>, <dd-Mon-yy h:mm:ss AM>, <label>, <description>, <ms>[, <extra>]
//
// Only error ids on the allow list are stored. The list comes from the
// manifest option allowed_ids and the settings section named by
// filter_section. An empty list stores nothing unless allow_all is set.
package errorlog

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/ingest"
	"fabingest/internal/services"
)

const (
	// Kind is the manifest kind that selects this parser.
	Kind = "errorlog"
	// TableName is the destination table.
	TableName = "plg_error"
	// DefaultFilterSection holds the allowed error ids, one per entry.
	DefaultFilterSection = "ErrorFilter"

	defaultVersion = "2.0.0"
	timeLayout     = "02-Jan-06 3:04:05 PM"
)

var linePattern = regexp.MustCompile(`^(?P<id>\w+),\s*(?P<ts>[^,]+),\s*(?P<lbl>[^,]+),\s*(?P<desc>[^,]+),\s*(?P<ms>\d+)(?:,\s*(?P<extra>.*))?`)

var (
	groupID    = linePattern.SubexpIndex("id")
	groupTS    = linePattern.SubexpIndex("ts")
	groupLabel = linePattern.SubexpIndex("lbl")
	groupDesc  = linePattern.SubexpIndex("desc")
	groupMS    = linePattern.SubexpIndex("ms")
	groupExtra = linePattern.SubexpIndex("extra")
)

// Entry is one parsed error line.
type Entry struct {
	ID          string
	Time        time.Time
	Label       string
	Description string
	Millisecond int
	Extra       string
}

// ParseLines returns the well-formed entries of lines. Lines that do not
// match or carry an unparseable timestamp are skipped.
func ParseLines(lines []string) []Entry {
	var out []Entry
	for _, line := range lines {
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, ok := ingest.ParseLocal(strings.ToUpper(strings.TrimSpace(m[groupTS])), timeLayout)
		if !ok {
			continue
		}
		ms, err := strconv.Atoi(m[groupMS])
		if err != nil {
			ms = 0
		}
		out = append(out, Entry{
			ID:          strings.TrimSpace(m[groupID]),
			Time:        ts,
			Label:       strings.TrimSpace(m[groupLabel]),
			Description: strings.TrimSpace(m[groupDesc]),
			Millisecond: ms,
			Extra:       strings.TrimSpace(m[groupExtra]),
		})
	}
	return out
}

// Plugin is the error log parser.
type Plugin struct {
	plugin.Base

	deps          ingest.Deps
	enc           encoding.Encoding
	filterSection string
	allowAll      bool
	optionIDs     []string

	mu      sync.RWMutex
	allowed map[string]struct{}
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

	if p.enc, err = ingest.LookupEncoding(deps.Options.String("encoding", ingest.DefaultEncoding)); err != nil {
		return err
	}
	p.filterSection = deps.Options.String("filter_section", DefaultFilterSection)
	p.allowAll = deps.Options.Bool("allow_all", false)
	p.optionIDs = deps.Options.Strings("allowed_ids")
	p.loadFilter()
	return nil
}

// Start refreshes the allow list so settings edits apply on restart.
func (p *Plugin) Start() error {
	p.loadFilter()
	return nil
}

func (p *Plugin) loadFilter() {
	set := make(map[string]struct{}, len(p.optionIDs))
	for _, id := range p.optionIDs {
		if id = normalizeID(id); id != "" {
			set[id] = struct{}{}
		}
	}
	if p.deps.Settings != nil {
		entries, err := p.deps.Settings.GetSectionEntries(p.filterSection)
		if err != nil {
			p.Log.LogError(fmt.Sprintf("[%s] Failed to load error id filter from [%s]: %v", p.Name(), p.filterSection, err))
		}
		for _, entry := range entries {
			if id := normalizeID(entry); id != "" {
				set[id] = struct{}{}
			}
		}
	}
	p.mu.Lock()
	p.allowed = set
	p.mu.Unlock()
	p.Log.LogEvent(fmt.Sprintf("[%s] Loaded %d error id filter(s).", p.Name(), len(set)))
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Allowed reports whether id passes the filter.
func (p *Plugin) Allowed(id string) bool {
	if p.allowAll {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allowed[normalizeID(id)]
	return ok
}

func (p *Plugin) Process(ctx context.Context, path string, _ ...any) error {
	name := filepath.Base(path)
	p.Log.LogEvent(fmt.Sprintf("[%s] Processing file: %s", p.Name(), path))

	lines, err := ingest.ReadLines(path, p.enc)
	if err != nil {
		return err
	}
	entries := ParseLines(lines)
	if len(entries) == 0 {
		p.Log.LogDebug(fmt.Sprintf("[%s] No valid error data found in: %s", p.Name(), name))
		return nil
	}

	table := newTable()
	skipped := 0
	for _, e := range entries {
		if !p.Allowed(e.ID) {
			skipped++
			continue
		}
		table.AddRow(
			p.deps.EQPID,
			e.ID,
			e.Time,
			e.Label,
			e.Description,
			e.Millisecond,
			e.Extra,
			nil,
			p.deps.Clock.Synchronize(e.Time),
		)
	}
	p.Log.LogEvent(fmt.Sprintf("[%s] Filter result for '%s': total=%d, matched=%d, skipped=%d",
		p.Name(), name, len(entries), table.Len(), skipped))
	if table.Len() == 0 {
		return nil
	}

	inserted, err := p.deps.DB.BulkInsert(ctx, table, TableName)
	if err != nil {
		return fmt.Errorf("insert %s rows from %s: %w", TableName, name, err)
	}
	p.Log.LogDebug(fmt.Sprintf("[%s] %d row(s) written to %s.", p.Name(), inserted, TableName))
	return nil
}

func newTable() services.Table {
	return services.Table{
		Columns: []string{
			"eqpid", "error_id", "time_stamp", "error_label", "error_desc",
			"millisecond", "extra_message_1", "extra_message_2", "serv_ts",
		},
		Key: []string{"eqpid", "error_id", "time_stamp", "millisecond"},
	}
}
