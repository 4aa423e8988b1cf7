package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := ModuleError(ErrCodeNotFound, "acme:oracle", "module is not installed")
	assert.Equal(t, "NOT_FOUND: module is not installed (module=acme:oracle)", err.Error())

	bare := NewError(ErrCodeEmptyBatch, "upgrade batch is empty")
	assert.Equal(t, "EMPTY_BATCH: upgrade batch is empty", bare.Error())
}

func TestHasCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("upgrade: %w", NewError(ErrCodeOlderVersion, "older"))
	assert.True(t, HasCode(err, ErrCodeOlderVersion))
	assert.False(t, HasCode(err, ErrCodeNotFound))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
	assert.Equal(t, ErrCodeOlderVersion, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain")))
}

func TestNewHasDependentsError_SortedDetail(t *testing.T) {
	err := NewHasDependentsError("acme:oracle", []ModuleID{"acme:zeta", "acme:lending"})
	assert.Equal(t, ErrCodeHasDependents, err.Code)
	assert.Equal(t, "acme:lending,acme:zeta", err.Details["dependents"])
}

func TestNewRequirementNotMetError(t *testing.T) {
	err := NewRequirementNotMetError("acme:lending", "acme:oracle", "<2.0.0", "2.0.0")
	assert.Equal(t, ErrCodeRequirementNotMet, err.Code)
	assert.Equal(t, ModuleID("acme:oracle"), err.Module)
	assert.Equal(t, "<2.0.0", err.Details["comparator"])
	assert.Contains(t, err.Error(), "acme:lending requires acme:oracle <2.0.0, got 2.0.0")
}
