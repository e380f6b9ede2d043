package batches

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKindData, KindOf(NewDataError("too few slices: %d", 12)))
	assert.Equal(t, ErrorKindUnexpected, KindOf(errors.New("boom")))
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("study rejected: %w", NewDataError("incompatible phantom"))
	assert.Equal(t, ErrorKindData, KindOf(err))
}

func TestDataErrorMessage(t *testing.T) {
	assert.Equal(t, "too few slices: 12", NewDataError("too few slices: %d", 12).Error())
}
