package identity

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initData(userJSON string) string {
	v := url.Values{}
	v.Set("query_id", "AAE")
	v.Set("user", userJSON)
	v.Set("auth_date", "1700000000")
	return v.Encode()
}

func TestResolvePriority(t *testing.T) {
	query := url.Values{"uid": {"300"}}
	data := initData(`{"id":200,"first_name":"Budi"}`)

	got, err := Resolve(Inputs{SessionUserID: 100, InitData: data, Query: query})
	require.NoError(t, err)
	assert.Equal(t, Resolved{UserID: 100, Source: SourceSession}, got)

	got, err = Resolve(Inputs{InitData: data, Query: query})
	require.NoError(t, err)
	assert.Equal(t, Resolved{UserID: 200, Source: SourceInitData}, got)

	got, err = Resolve(Inputs{Query: query})
	require.NoError(t, err)
	assert.Equal(t, Resolved{UserID: 300, Source: SourceQuery}, got)
}

func TestResolveFallsThroughBadInitData(t *testing.T) {
	got, err := Resolve(Inputs{
		InitData: initData(`{"id":"not-a-number"}`),
		Query:    url.Values{"uid": {"42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceQuery, got.Source)
	assert.Equal(t, int64(42), got.UserID)
}

func TestResolveUnresolved(t *testing.T) {
	cases := []Inputs{
		{},
		{InitData: "%%%"},
		{InitData: initData(`{"first_name":"x"}`)},
		{Query: url.Values{"uid": {"abc"}}},
		{Query: url.Values{"uid": {"-5"}}},
		{SessionUserID: -1},
	}
	for _, in := range cases {
		_, err := Resolve(in)
		assert.ErrorIs(t, err, ErrUnresolved)
	}
}

func TestFromInitDataLargeID(t *testing.T) {
	id, ok := FromInitData(initData(`{"id":7123456789}`))
	require.True(t, ok)
	assert.Equal(t, int64(7123456789), id)
}
