// Package logx is feedwatch's structured logger: a thin layer over zerolog
// with typed Field helpers, a readable console sink, an optional JSON file
// sink and levels that can be changed while the process runs.
package logx
