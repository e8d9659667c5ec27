// Package tgui holds small helpers for chat replies: HTML escaping for the
// telegram HTML parse mode, rune-safe truncation and list pagination.
package tgui
