package memerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE_MessageForms(t *testing.T) {
	assert.Equal(t, "store.GetMemory: not found: memory mem_x",
		E("store.GetMemory", ErrNotFound, "memory mem_x").Error())
	assert.Equal(t, "store.GetMemory: not found",
		E("store.GetMemory", ErrNotFound, "").Error())
	assert.Equal(t, "not found: gone",
		(&Error{Err: ErrNotFound, Detail: "gone"}).Error())
}

func TestE_NilPromotedToInternal(t *testing.T) {
	err := E("op", nil, "oops")
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestEf_Formats(t *testing.T) {
	err := Ef("tools.Pin", ErrConflict, "memory %s is pinned", "mem_1")
	assert.Contains(t, err.Error(), "memory mem_1 is pinned")
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))

	inner := E("store.GetMemory", ErrNotFound, "")
	wrapped := Wrap("tools.Forget", inner)
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Contains(t, wrapped.Error(), "tools.Forget")
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{ErrInvalid, CodeInvalid},
		{ErrNotFound, CodeNotFound},
		{ErrConflict, CodeConflict},
		{ErrBusy, CodeBusy},
		{ErrUnavailable, CodeUnavailable},
		{ErrInternal, CodeInternal},
		{errors.New("anything else"), CodeInternal},
		{fmt.Errorf("outer: %w", ErrBusy), CodeBusy},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeOf(tc.err))
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrInvalid))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrBusy))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("bug")))
}

func TestUserMessage_HidesInternalDetail(t *testing.T) {
	err := E("store.CreateMemory", errors.New("constraint xyz blew up"), "row 17")
	assert.Equal(t, "internal error", UserMessage(err))

	visible := E("tools.Remember", ErrInvalid, "content must not be empty")
	assert.Contains(t, UserMessage(visible), "content must not be empty")
	assert.Equal(t, "", UserMessage(nil))
}
