package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultWindow = 100
	maxWindow     = 500
)

// TailWindow reads the "limit" query parameter for endpoints that return
// the newest N items of an ordered list.
func TailWindow(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		return defaultWindow
	}
	if limit > maxWindow {
		return maxWindow
	}
	return limit
}

// Tail returns the last n elements of items.
func Tail[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
