package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

func newTestExpander(completer CompletionProvider) *Expander {
	return NewExpander(config.DefaultExpanderConfig(), completer, zap.NewNop())
}

func TestExpander_OriginalFirstThenParaphrases(t *testing.T) {
	completer := &scriptedCompleter{respond: func(string) (string, error) {
		return "1. selector weighting scheme\n2. momentum weight in selector\n3. how selector scores momentum", nil
	}}
	e := newTestExpander(completer)

	variants := e.Expand(context.Background(), "selector weight")

	assert.Equal(t, "selector weight", variants[0])
	assert.Equal(t, []string{
		"selector weight",
		"selector weighting scheme",
		"momentum weight in selector",
		"how selector scores momentum",
	}, variants)
}

func TestExpander_CapsVariants(t *testing.T) {
	completer := &scriptedCompleter{respond: func(string) (string, error) {
		return "1. a\n2. b\n3. c\n4. d\n5. e\n6. f", nil
	}}
	e := newTestExpander(completer)

	variants := e.Expand(context.Background(), "query")

	// original plus at most MaxExpansions paraphrases
	assert.Len(t, variants, 1+config.DefaultExpanderConfig().MaxExpansions)
}

func TestExpander_DropsDuplicatesOfOriginal(t *testing.T) {
	completer := &scriptedCompleter{respond: func(string) (string, error) {
		return "1. Selector Weight!\n2. selector weight\n3. weighting in the selector", nil
	}}
	e := newTestExpander(completer)

	variants := e.Expand(context.Background(), "selector weight")

	assert.Equal(t, []string{"selector weight", "weighting in the selector"}, variants)
}

func TestExpander_FailureKeepsOriginalOnly(t *testing.T) {
	completer := &scriptedCompleter{respond: func(string) (string, error) {
		return "", errors.New("model timeout")
	}}
	e := newTestExpander(completer)

	variants := e.Expand(context.Background(), "selector weight")

	assert.Equal(t, []string{"selector weight"}, variants)
}

func TestExpander_DisabledReturnsOriginal(t *testing.T) {
	cfg := config.DefaultExpanderConfig()
	cfg.Enabled = false
	completer := &scriptedCompleter{}
	e := NewExpander(cfg, completer, zap.NewNop())

	variants := e.Expand(context.Background(), "selector weight")

	assert.Equal(t, []string{"selector weight"}, variants)
	assert.Zero(t, completer.promptCount())
}

func TestExpander_NilCompleter(t *testing.T) {
	e := newTestExpander(nil)
	assert.Equal(t, []string{"q"}, e.Expand(context.Background(), "q"))
}

func TestExpander_BlankQuery(t *testing.T) {
	completer := &scriptedCompleter{}
	e := newTestExpander(completer)

	assert.Equal(t, []string{"   "}, e.Expand(context.Background(), "   "))
	assert.Zero(t, completer.promptCount())
}
