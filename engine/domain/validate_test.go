package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name string
		req  ProcessRequest
		want error
	}{
		{"ok", ProcessRequest{UID: "m-1", Prompt: "flight delay"}, nil},
		{"ok with limit", ProcessRequest{UID: "m-1", Prompt: "flight delay", Limit: 100}, nil},
		{"missing uid", ProcessRequest{Prompt: "flight delay"}, ErrEmptyUID},
		{"blank prompt", ProcessRequest{UID: "m-1", Prompt: "   "}, ErrEmptyPrompt},
		{"limit too big", ProcessRequest{UID: "m-1", Prompt: "x", Limit: 101}, ErrLimitOutOfRange},
		{"negative limit", ProcessRequest{UID: "m-1", Prompt: "x", Limit: -1}, ErrLimitOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, ClassClient, Classify(err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassClient, Classify(NewValidationError("f", "v", ErrInvalidValue)))
	assert.Equal(t, ClassUpstream, Classify(Upstream("embedding", "create", errors.New("503"))))
	assert.Equal(t, ClassUpstream, Classify(fmt.Errorf("wrapped: %w", Upstream("qdrant", "search", errors.New("x")))))
	assert.Equal(t, ClassInternal, Classify(&NotFoundError{Collection: "c"}))
	assert.Equal(t, ClassInternal, Classify(&SchemaError{Collection: "c", Reason: "no vectors"}))
	assert.Equal(t, ClassInternal, Classify(&IntegrityError{What: "pairs", Expected: 3, Got: 2}))
	assert.Equal(t, ClassInternal, Classify(errors.New("boom")))
}

func TestNotFoundErrorCapsList(t *testing.T) {
	existing := make([]string, 25)
	for i := range existing {
		existing[i] = fmt.Sprintf("c%02d", i)
	}
	msg := (&NotFoundError{Collection: "missing", Existing: existing}).Error()
	assert.Contains(t, msg, "c19")
	assert.NotContains(t, msg, "c20")
	assert.Contains(t, msg, "(+5 more)")

	empty := (&NotFoundError{Collection: "missing"}).Error()
	assert.Contains(t, empty, "existing collections: none")
}

func TestEmptyCorpusErrorMessage(t *testing.T) {
	err := &EmptyCorpusError{Dataset: "org/set", Split: "train", TextField: "Question"}
	assert.Contains(t, err.Error(), "org/set:train")
	assert.Contains(t, err.Error(), `"Question"`)
}
