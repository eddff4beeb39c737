// Package internal holds packages private to authkit.
//
//   - audit: async event dispatch to pluggable sinks
//   - rate: fixed-window failed redemption limits
package internal
