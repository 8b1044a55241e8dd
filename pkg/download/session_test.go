package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmirror/devmirror-go/pkg/store"
)

func TestKind(t *testing.T) {
	assert.Equal(t, []store.Category{store.Variable, store.Alias}, KindVarAlias.Categories())
	assert.Equal(t, []store.Category{store.RuntimePublishedValue}, KindRPV.Categories())
	assert.True(t, KindVarAlias.Covers(store.Alias))
	assert.False(t, KindVarAlias.Covers(store.RuntimePublishedValue))
	assert.Equal(t, KindRPV, KindOf(store.RuntimePublishedValue))
	assert.Equal(t, KindVarAlias, KindOf(store.Variable))

	k, err := ParseKind("rpv")
	require.NoError(t, err)
	assert.Equal(t, KindRPV, k)
	_, err = ParseKind("all")
	assert.Error(t, err)
}

func TestSetExpectedCounts(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		counts  map[store.Category]int
		wantErr bool
	}{
		{"VarAliasBoth", KindVarAlias, map[store.Category]int{store.Variable: 2, store.Alias: 0}, false},
		{"VarAliasMissingAlias", KindVarAlias, map[store.Category]int{store.Variable: 2}, true},
		{"VarAliasExtraRPV", KindVarAlias, map[store.Category]int{store.Variable: 2, store.Alias: 0, store.RuntimePublishedValue: 1}, true},
		{"RPVOnly", KindRPV, map[store.Category]int{store.RuntimePublishedValue: 3}, false},
		{"RPVWithVar", KindRPV, map[store.Category]int{store.RuntimePublishedValue: 3, store.Variable: 1}, true},
		{"Negative", KindRPV, map[store.Category]int{store.RuntimePublishedValue: -1}, true},
		{"Empty", KindRPV, map[store.Category]int{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(5, tt.kind)
			err := s.SetExpectedCounts(tt.counts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCountMismatch)
				assert.True(t, s.Canceled(), "mismatch cancels the session")
				return
			}
			require.NoError(t, err)
			assert.False(t, s.Canceled())
			assert.Equal(t, tt.counts, s.ExpectedCounts())
		})
	}
}

func TestRequiredCount(t *testing.T) {
	s := NewSession(1, KindVarAlias)

	_, err := s.RequiredCount(store.Variable)
	assert.ErrorIs(t, err, ErrIrrelevantCategory, "no counts yet")

	require.NoError(t, s.SetExpectedCounts(map[store.Category]int{store.Variable: 4, store.Alias: 1}))

	n, err := s.RequiredCount(store.Variable)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = s.RequiredCount(store.RuntimePublishedValue)
	assert.ErrorIs(t, err, ErrIrrelevantCategory)
}

func TestCancelIsPermanent(t *testing.T) {
	s := NewSession(1, KindRPV)
	require.NoError(t, s.SetExpectedCounts(map[store.Category]int{store.RuntimePublishedValue: 1}))

	s.Cancel()
	s.Cancel()
	assert.True(t, s.Canceled())

	_, err := s.Evaluate(map[store.Category]int{store.RuntimePublishedValue: 1})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.True(t, s.Canceled())
}

func TestEvaluate(t *testing.T) {
	newSession := func(t *testing.T) *Session {
		s := NewSession(1, KindVarAlias)
		require.NoError(t, s.SetExpectedCounts(map[store.Category]int{store.Variable: 2, store.Alias: 1}))
		return s
	}

	t.Run("InProgress", func(t *testing.T) {
		p, err := newSession(t).Evaluate(map[store.Category]int{store.Variable: 1, store.Alias: 1})
		require.NoError(t, err)
		assert.Equal(t, InProgress, p)
	})

	t.Run("Complete", func(t *testing.T) {
		p, err := newSession(t).Evaluate(map[store.Category]int{
			store.Variable: 2, store.Alias: 1,
			store.RuntimePublishedValue: 99, // other kinds are ignored
		})
		require.NoError(t, err)
		assert.Equal(t, Complete, p)
	})

	t.Run("Overflow", func(t *testing.T) {
		s := newSession(t)
		_, err := s.Evaluate(map[store.Category]int{store.Variable: 3, store.Alias: 0})
		assert.ErrorIs(t, err, ErrOverflow)
		assert.True(t, s.Canceled())
	})

	t.Run("NoExpectedCounts", func(t *testing.T) {
		_, err := NewSession(1, KindRPV).Evaluate(map[store.Category]int{})
		assert.ErrorIs(t, err, ErrCountMismatch)
	})
}
