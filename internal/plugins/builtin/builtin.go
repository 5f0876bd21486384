// Package builtin registers the parsers compiled into the host.
package builtin

import (
	"fabingest/internal/plugin"
	"fabingest/internal/plugins/errorlog"
	"fabingest/internal/plugins/prealign"
	"fabingest/internal/plugins/waferflat"
)

// Register adds every built-in kind to catalog.
func Register(catalog *plugin.Catalog) error {
	for kind, factory := range map[string]plugin.Factory{
		errorlog.Kind:  errorlog.New,
		waferflat.Kind: waferflat.New,
		prealign.Kind:  prealign.New,
	} {
		if err := catalog.Register(kind, factory); err != nil {
			return err
		}
	}
	return nil
}

// Catalog returns a catalog holding the built-in kinds.
func Catalog() *plugin.Catalog {
	c := plugin.NewCatalog()
	if err := Register(c); err != nil {
		panic(err)
	}
	return c
}
