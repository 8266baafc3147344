package clix

import (
	"github.com/spf13/pflag"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads the conventional --limit/--offset flags, clamping
// them to sane values.
func ParsePagination(flags *pflag.FlagSet) PaginationParams {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}
}
