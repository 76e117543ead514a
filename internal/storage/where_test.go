package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhere(t *testing.T) {
	row := Row{"type": "u", "principals": []string{"g1", "g2"}, "age": int64(40)}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`type == "u"`, true},
		{`type == "g"`, false},
		{`"g2" in principals`, true},
		{`"g3" in principals`, false},
		{`type == "u" and "g1" in principals`, true},
		{`missing == "x"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := Where(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p(row))
		})
	}

	_, err := Where(`type ==`)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(MustRowHasher(DefaultRowHashAlgorithm))
	require.NoError(t, c.Put(ctx, "n", "cn", "a", Row{"kind": "doc", "title": "A"}))
	require.NoError(t, c.Put(ctx, "n", "cn", "b", Row{"kind": "doc", "title": "B"}))
	require.NoError(t, c.Put(ctx, "n", "cn", "c", Row{"kind": "img", "title": "C"}))

	it, err := c.Find(ctx, "n", "cn", map[string]any{"kind": "doc"})
	require.NoError(t, err)
	keep, err := Where(`title != "A"`)
	require.NoError(t, err)

	filtered := Filter(it, keep)
	defer filtered.Close()

	var keys []string
	for filtered.Next() {
		keys = append(keys, filtered.Key())
	}
	require.NoError(t, filtered.Err())
	assert.Equal(t, []string{"b"}, keys)
}
