// Package ingest holds the pieces shared by the built-in equipment parsers:
// host service resolution, encoded text loading and timestamp parsing.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"fabingest/internal/services"
)

// DefaultEncoding is the code page equipment software writes logs in.
const DefaultEncoding = "euc-kr"

// Deps are the host services an equipment parser needs.
type Deps struct {
	Log      services.Logger
	DB       services.Database
	Clock    services.Clock
	Settings services.Settings
	Options  services.Options
	EQPID    string
}

// Resolve pulls Deps from a plugin's locator. Logger, Database and Clock are
// required. The equipment id comes from the host Equipment service and falls
// back to the [Eqpid] Eqpid setting.
func Resolve(loc services.Locator) (Deps, error) {
	var (
		deps Deps
		err  error
	)
	if deps.Log, err = services.Require[services.Logger](loc); err != nil {
		return Deps{}, err
	}
	if deps.DB, err = services.Require[services.Database](loc); err != nil {
		return Deps{}, err
	}
	if deps.Clock, err = services.Require[services.Clock](loc); err != nil {
		return Deps{}, err
	}
	deps.Settings, _ = services.Get[services.Settings](loc)
	deps.Options, _ = services.Get[services.Options](loc)

	if eq, ok := services.Get[services.Equipment](loc); ok {
		deps.EQPID = strings.TrimSpace(eq.EQPID)
	}
	if deps.EQPID == "" && deps.Settings != nil {
		if value, err := deps.Settings.GetValue("Eqpid", "Eqpid"); err == nil {
			deps.EQPID = strings.TrimSpace(value)
		}
	}
	if deps.EQPID == "" {
		return Deps{}, services.Wrap(services.ErrServiceMissing, "plugin", "initialize",
			"equipment id is not configured (set equipment.eqpid or [Eqpid] Eqpid)", nil)
	}
	return deps, nil
}

// LookupEncoding resolves a WHATWG encoding label such as "euc-kr" or
// "utf-8". An empty label selects DefaultEncoding.
func LookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plugin", "encoding",
			fmt.Sprintf("unknown encoding %q", label), err)
	}
	return enc, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadLines decodes path with enc and returns its non-blank lines. A UTF-8
// byte order mark switches decoding to UTF-8 regardless of enc.
func ReadLines(path string, enc encoding.Encoding) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "plugin", "read", path, err)
	}
	if bytes.HasPrefix(raw, utf8BOM) {
		raw = raw[len(utf8BOM):]
		enc = unicode.UTF8
	}
	if enc == nil {
		enc = unicode.UTF8
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return SplitLines(string(decoded)), nil
}

// SplitLines splits on CRLF or LF and drops blank lines.
func SplitLines(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := parts[:0]
	for _, line := range parts {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseLocal parses value with the first matching layout in the host's local
// zone.
func ParseLocal(value string, layouts ...string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// GeneralLayouts are the free-form date layouts equipment headers use.
var GeneralLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 3:04:05 PM",
	"2006/01/02 3:04:05 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"01-02-2006 15:04:05",
	"2006-01-02",
	"1/2/2006",
}
