// Package internaldefs holds the shared metric naming tables used by the
// exporter backends. Not intended for direct use by embedders.
package internaldefs
