package itemlist

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clause struct {
	name string
}

func newEditor(initial []clause, onChange func([]clause)) *Editor[clause] {
	log := logrus.New()
	return New(initial, func() clause { return clause{name: "new"} }, onChange, log)
}

func TestNewSelection(t *testing.T) {
	tests := []struct {
		name         string
		initial      []clause
		wantSelected bool
		wantIndex    int
	}{
		{"empty list has no selection", nil, false, -1},
		{"single item auto-selects", []clause{{name: "a"}}, true, 0},
		{"multiple items start unselected", []clause{{name: "a"}, {name: "b"}}, false, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEditor(tt.initial, nil)
			_, index, ok := e.Selected()
			assert.Equal(t, tt.wantSelected, ok)
			assert.Equal(t, tt.wantIndex, index)
		})
	}
}

func TestAddSelectsNewItem(t *testing.T) {
	var notified [][]clause
	e := newEditor([]clause{{name: "a"}, {name: "b"}}, func(items []clause) {
		notified = append(notified, items)
	})

	added := e.Add()
	assert.Equal(t, "new", added.name)

	selected, index, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, 2, index)
	assert.Equal(t, "new", selected.name)
	assert.Len(t, notified, 1)
}

func TestUpdateRequiresSelection(t *testing.T) {
	var changes int
	e := newEditor([]clause{{name: "a"}, {name: "b"}}, func([]clause) { changes++ })

	// No selection: update is a warning no-op.
	e.Update(clause{name: "x"})
	assert.Equal(t, 0, changes)
	assert.Equal(t, "a", e.Items()[0].name)

	e.Select(1)
	e.Update(clause{name: "x"})
	assert.Equal(t, 1, changes)
	assert.Equal(t, "x", e.Items()[1].name)
}

func TestDelete(t *testing.T) {
	t.Run("deleting the selected item clears selection", func(t *testing.T) {
		e := newEditor([]clause{{name: "a"}, {name: "b"}}, nil)
		e.Select(1)
		e.Delete(1)
		_, _, ok := e.Selected()
		assert.False(t, ok)
		assert.Len(t, e.Items(), 1)
	})

	t.Run("deleting an earlier item shifts the selection", func(t *testing.T) {
		e := newEditor([]clause{{name: "a"}, {name: "b"}, {name: "c"}}, nil)
		e.Select(2)
		e.Delete(0)
		selected, index, ok := e.Selected()
		require.True(t, ok)
		assert.Equal(t, 1, index)
		assert.Equal(t, "c", selected.name)
	})

	t.Run("out of range is a no-op", func(t *testing.T) {
		e := newEditor([]clause{{name: "a"}}, nil)
		e.Delete(5)
		assert.Len(t, e.Items(), 1)
	})
}

func TestClose(t *testing.T) {
	e := newEditor([]clause{{name: "a"}}, nil)
	_, _, ok := e.Selected()
	require.True(t, ok)

	e.Close()
	_, _, ok = e.Selected()
	assert.False(t, ok)
	assert.Len(t, e.Items(), 1)
}
