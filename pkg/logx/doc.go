// Package logx configures hitgrab's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert forwarder for warn+ lines (min-level + rate limiting)
package logx
