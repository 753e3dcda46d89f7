// Package logx configures taskloop's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The zero value usable as a no-op logger, so libraries can accept one unconditionally
package logx
