package imdb

import (
	"context"

	"github.com/hbomb79/castid/internal/cast"
)

// Lookup searches IMDB for the name provided, returning
// every result as a cast.Match.
func (searcher *imdbSearcher) Lookup(ctx context.Context, name string) ([]cast.Match, error) {
	result, err := searcher.Search(ctx, name)
	if err != nil {
		return nil, err
	}

	matches := make([]cast.Match, 0, len(result.Results))
	for _, item := range result.Results {
		matches = append(matches, item.toMatch())
	}

	return matches, nil
}

func (item *SearchResultItem) toMatch() cast.Match {
	match := cast.Match{Label: item.Label}
	if item.Image != nil {
		match.ImageURL = item.Image.ImageUrl
	}

	return match
}
