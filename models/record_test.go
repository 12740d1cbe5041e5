package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalOrder(t *testing.T) {
	r := NewRecord([]string{"name", "email", "url"})
	r.Set("email", StringPtr("a@b.test"))
	r.Set("name", StringPtr("Ada"))
	r.Set("unknown", StringPtr("ignored"))

	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Ada","email":"a@b.test","url":null}`, string(b))
}

func TestRecordProvenance(t *testing.T) {
	r := NewRecord([]string{"name"})
	r.Provenance = Provenance{SourceURL: "https://x.test/", Page: 2, Item: 1}

	b, err := r.MarshalJSONWithProvenance()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":null,"_provenance":{"source_url":"https://x.test/","page":2,"item":1}}`, string(b))
}

func TestRecordContentKeyIgnoresProvenance(t *testing.T) {
	a := NewRecord([]string{"name", "city"})
	a.Set("name", StringPtr("Ada"))
	a.Provenance.Page = 1

	b := NewRecord([]string{"name", "city"})
	b.Set("name", StringPtr("Ada"))
	b.Provenance.Page = 7

	assert.Equal(t, a.ContentKey(), b.ContentKey())

	// An empty string is a value, distinct from null.
	b.Set("city", StringPtr(""))
	assert.NotEqual(t, a.ContentKey(), b.ContentKey())
}

func TestRecordMergeAndEmpty(t *testing.T) {
	listing := NewRecord([]string{"name", "url"})
	assert.True(t, listing.Empty())
	listing.Set("name", StringPtr("Ada"))
	assert.False(t, listing.Empty())

	detail := NewRecord([]string{"bio"})
	detail.Set("bio", StringPtr("mathematician"))

	listing.Merge(detail)
	assert.Equal(t, []string{"name", "url", "bio"}, listing.Fields)
	v, ok := listing.Get("bio")
	assert.True(t, ok)
	assert.Equal(t, "mathematician", v)
}

func TestScrapeResultRecordsJSON(t *testing.T) {
	r1 := NewRecord([]string{"a"})
	r1.Set("a", StringPtr("1"))
	res := &ScrapeResult{Records: []*Record{r1, NewRecord([]string{"a"})}}

	b, err := res.RecordsJSON(false)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":"1"},{"a":null}]`, string(b))

	empty := &ScrapeResult{}
	b, err = empty.RecordsJSON(false)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(b))
}
