package cast_test

import (
	"context"
	"testing"

	"github.com/hbomb79/castid/internal/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func Test_BackHalfSelector(t *testing.T) {
	tests := []struct {
		summary    string
		max        int
		candidates []string
		expected   []string
	}{
		{"even list", 5, []string{"Role A", "Role B", "Role C", "Name A", "Name B", "Name C"}, []string{"Name A", "Name B", "Name C"}},
		{"odd list skips the middle", 5, []string{"Role A", "Role B", "Middle", "Name A", "Name B"}, []string{"Name A", "Name B"}},
		{"limited to max", 2, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, []string{"5", "6"}},
		{"no limit", 0, []string{"1", "2", "3", "4"}, []string{"3", "4"}},
		{"single entry", 5, []string{"Only"}, []string{}},
		{"empty", 5, []string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, cast.BackHalfSelector{Max: tt.max}.Select(tt.candidates))
		})
	}
}

type firstSelector struct{}

func (firstSelector) Select(candidates []string) []string { return candidates[:1] }

func Test_Execute_UsesProvidedSelector(t *testing.T) {
	recognizer := &fakeRecognizer{texts: map[float64]string{1820: "CAST\nFirst\nSecond"}}
	lookup := &mockLookup{}
	lookup.On("Lookup", mock.Anything, "First").Return(nil, nil).Once()
	notifier := &recordingNotifier{}

	engine := cast.NewEngine(defaultConfig(t), &fakeExtractor{duration: 2000}, recognizer, lookup, firstSelector{})
	_, err := engine.Execute(context.Background(), newVideo(), notifier)
	assert.NoError(t, err)

	if assert.Len(t, notifier.results, 1) {
		assert.Equal(t, []cast.Member{{Name: "First"}}, notifier.results[0])
	}
	lookup.AssertExpectations(t)
}
