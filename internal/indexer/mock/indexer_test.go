package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

func TestSearch_MatchesTitleAuthorISBN(t *testing.T) {
	client := New(&types.IndexerConfig{Name: "mock"})

	byTitle, err := client.Search(context.Background(), &types.SearchCriteria{Title: "dune"})
	require.NoError(t, err)
	require.Len(t, byTitle, 2)
	assert.Equal(t, "Frank Herbert", byTitle[0].Author)

	byISBN, err := client.Search(context.Background(), &types.SearchCriteria{ISBN: "9780441569595"})
	require.NoError(t, err)
	require.Len(t, byISBN, 2)
	assert.Equal(t, "Neuromancer - William Gibson [EPUB]", byISBN[0].Title)

	none, err := client.Search(context.Background(), &types.SearchCriteria{Query: "cookbook"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearch_EmptyTermReturnsCatalog(t *testing.T) {
	client := New(&types.IndexerConfig{Name: "mock"})

	all, err := client.Search(context.Background(), &types.SearchCriteria{})
	require.NoError(t, err)
	assert.Greater(t, len(all), 5)
	for _, r := range all {
		assert.Equal(t, "mock", r.IndexerName)
		assert.NotEmpty(t, r.DownloadURL)
		assert.NotEmpty(t, r.Quality)
	}
}

func TestTest_AlwaysHealthy(t *testing.T) {
	client := New(&types.IndexerConfig{Name: "mock"})
	assert.NoError(t, client.Test(context.Background()))
}
