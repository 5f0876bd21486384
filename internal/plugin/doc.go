// Package plugin loads equipment handlers from manifests.
//
// Handlers are compiled into the host and registered in a Catalog under a
// kind. A manifest in the plugin folder instantiates a kind under a name with
// options:
//
//	[[plugin]]
//	name = "ErrorData"
//	kind = "errorlog"
//	version = "1.2.0"
//	[plugin.options]
//	encoding = "euc-kr"
//
// Every entry is constructed and initialized in isolation; a failing entry is
// logged and skipped. Plugin names are unique: when two entries claim the same
// name, the one from the lexically first manifest wins.
package plugin
