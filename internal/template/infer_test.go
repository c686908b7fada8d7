package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowlet/scanner/internal/inventory"
)

func entryFor(method, rawURL string) inventory.Entry {
	e, err := inventory.FromRequest(method, rawURL, nil, nil, 0, "nav")
	if err != nil {
		panic(err)
	}
	return e
}

func TestInferUnifiesVaryingNumericSegments(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/users/1"),
		entryFor("GET", "http://site.test/users/2"),
		entryFor("GET", "http://site.test/users/42"),
	})
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tpl := templates[0]
	assert.Equal(t, "/users/{users_id}", tpl.Pattern())
	assert.Equal(t, SegmentSlot, tpl.Segments[1].Kind)
	assert.ElementsMatch(t, []string{"1", "2", "42"}, tpl.Segments[1].Examples)
	assert.Len(t, tpl.EntryKeys, 3)

	params := tpl.PathParams()
	require.Len(t, params, 1)
	assert.Equal(t, TypeNumeric, params[0].Type)
	assert.True(t, params[0].Required)
}

func TestInferSingletonIdentifierIsAmbiguous(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/orders/1234"),
	})
	require.NoError(t, err)
	require.Len(t, templates, 1)

	assert.Equal(t, SegmentAmbiguous, templates[0].Segments[1].Kind)
	assert.Equal(t, "/orders/{orders_id}", templates[0].Pattern())
}

func TestInferSingletonLiteralPathHasNoSlots(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/api/health"),
	})
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tpl := templates[0]
	assert.Equal(t, "/api/health", tpl.Pattern())
	assert.Empty(t, tpl.PathParams())
	for _, seg := range tpl.Segments {
		assert.Equal(t, SegmentLiteral, seg.Kind)
	}
}

func TestInferMethodSplitsTemplates(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/users/1"),
		entryFor("DELETE", "http://site.test/users/1"),
	})
	require.NoError(t, err)
	assert.Len(t, templates, 2)
}

func TestInferUUIDSegments(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/items/0b8f3a50-1111-4222-8333-123456789abc"),
		entryFor("GET", "http://site.test/items/9c7e2b40-4444-4555-9666-abcdef012345"),
	})
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, SegmentSlot, templates[0].Segments[1].Kind)
	assert.Equal(t, TypeString, templates[0].PathParams()[0].Type)
}

func TestInferQueryParamsRequiredVsOptional(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/search?q=shoes&limit=10"),
		entryFor("GET", "http://site.test/search?q=hats"),
	})
	require.NoError(t, err)
	// the two entries differ in query-key-set so they stay distinct in
	// the inventory, yet share one structural path shape
	require.Len(t, templates, 1)

	tpl := templates[0]
	q, ok := tpl.Param("q")
	require.True(t, ok)
	assert.True(t, q.Required)
	assert.Equal(t, LocationQuery, q.Location)

	limit, ok := tpl.Param("limit")
	require.True(t, ok)
	assert.False(t, limit.Required)
	assert.Equal(t, TypeNumeric, limit.Type)
}

func TestInferBooleanType(t *testing.T) {
	templates, err := Infer([]inventory.Entry{
		entryFor("GET", "http://site.test/flags?active=true"),
		entryFor("GET", "http://site.test/flags?active=false"),
	})
	require.NoError(t, err)
	require.Len(t, templates, 1)

	p, ok := templates[0].Param("active")
	require.True(t, ok)
	assert.Equal(t, TypeBoolean, p.Type)
}

func TestInferEveryEntryMapsToExactlyOneTemplate(t *testing.T) {
	entries := []inventory.Entry{
		entryFor("GET", "http://site.test/users/1"),
		entryFor("GET", "http://site.test/users/2"),
		entryFor("POST", "http://site.test/users"),
		entryFor("GET", "http://site.test/about"),
	}
	templates, err := Infer(entries)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, tpl := range templates {
		for _, key := range tpl.EntryKeys {
			seen[key]++
		}
	}
	require.Len(t, seen, len(entries))
	for key, n := range seen {
		assert.Equal(t, 1, n, "entry %s", key)
	}
}

func TestLooksLikeIdentifier(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"123", true},
		{"0b8f3a50-1111-4222-8333-123456789abc", true},
		{"dGhpc2lzYXRva2VuMTIz", true},
		{"users", false},
		{"v2", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, looksLikeIdentifier(tc.value), tc.value)
	}
}
