package types

import (
	"strconv"
	"strings"
)

// Newznab/Torznab book category ids.
const (
	CategoryBooks      = 7000
	CategoryEBooks     = 7020
	CategoryComics     = 7030
	CategoryAudiobooks = 3030
)

// DefaultBookCategories is the category set used when an indexer has none
// configured.
func DefaultBookCategories() []int {
	return []int{CategoryBooks, CategoryEBooks}
}

// JoinCategories renders a category list the way the newznab query string
// expects it, e.g. "7000,7020".
func JoinCategories(categories []int) string {
	parts := make([]string, len(categories))
	for i, c := range categories {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
