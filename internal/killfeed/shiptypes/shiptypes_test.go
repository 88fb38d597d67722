package shiptypes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
)

func TestLoadCSV_WarmsCacheAndTracksCount(t *testing.T) {
	c := cache.New(nil)
	l := New(c)

	csv := "type_id,name\n670,Capsule\n671,Rifter\n"
	require.NoError(t, l.LoadCSV(context.Background(), strings.NewReader(csv)))

	assert.True(t, l.Loaded())
	assert.Equal(t, 2, l.Count())

	raw, ok := c.Get(context.Background(), cache.NamespaceShipTypes, "670")
	require.True(t, ok)
	assert.Equal(t, `"Capsule"`, string(raw))
}

func TestLoadCSV_SecondCallIsANoop(t *testing.T) {
	c := cache.New(nil)
	l := New(c)

	require.NoError(t, l.LoadCSV(context.Background(), strings.NewReader("670,Capsule\n")))
	require.NoError(t, l.LoadCSV(context.Background(), strings.NewReader("671,Rifter\n")))

	assert.Equal(t, 1, l.Count(), "a second LoadCSV call must not reload")
	_, ok := c.Get(context.Background(), cache.NamespaceShipTypes, "671")
	assert.False(t, ok)
}

func TestLoadCSV_SkipsMalformedRowsWithoutFailing(t *testing.T) {
	c := cache.New(nil)
	l := New(c)

	csv := "not-a-number,Bad Row\n670,Capsule\n"
	require.NoError(t, l.LoadCSV(context.Background(), strings.NewReader(csv)))
	assert.Equal(t, 1, l.Count())
}

func TestLoadCSV_MalformedFieldCountReturnsError(t *testing.T) {
	c := cache.New(nil)
	l := New(c)

	csv := "670,Capsule,extra-field\n"
	assert.Error(t, l.LoadCSV(context.Background(), strings.NewReader(csv)))
}
