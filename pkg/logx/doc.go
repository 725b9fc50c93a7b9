// Package logx provides feederd's structured logging on top of zerolog.
//
// A single Service owns the sink configuration (console and/or file) and can
// swap levels and outputs at runtime via Apply; Loggers handed out by the
// Service stay live across those swaps.
package logx
