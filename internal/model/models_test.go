package model_test

import (
	"testing"

	"github.com/raphi011/qaspace/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRunResultFailsWhenAnyTestDidNotPass(t *testing.T) {
	r := model.Run{
		ID: "run",
		Results: []model.TestResult{
			{Key: "QA-1", Status: model.StatusPassed},
			{Key: "QA-2", Status: "Skipped"},
		},
	}

	assert.Equal(t, model.StatusFailed, r.Result())
	assert.Len(t, r.Failed(), 1)

	s := r.Summary()
	assert.Equal(t, 2, s.Tests)
	assert.Equal(t, 1, s.Failed)
}

func TestEmptyRunPasses(t *testing.T) {
	assert.Equal(t, model.StatusPassed, model.Run{}.Result())
}

func TestNotFoundErrorMessage(t *testing.T) {
	assert.Equal(t, `run "abc" not found`, model.NotFoundError{Kind: "run", ID: "abc"}.Error())
	assert.Equal(t, "not found", model.NotFoundError{}.Error())
}
