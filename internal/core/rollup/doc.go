// Package rollup contains pure helpers for rollup infrastructure naming and
// service ordering. No I/O, no Docker calls.
package rollup
