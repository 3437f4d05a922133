package safe

import (
	"errors"
	"testing"
	"time"

	"PShop/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call("test", func() error { panic("bad event") })
	assert.True(t, errors.Is(err, errs.ErrInternal))
}

func TestCallPassesError(t *testing.T) {
	want := errors.New("plain")
	assert.Equal(t, want, Call("test", func() error { return want }))
	assert.NoError(t, Call("test", func() error { return nil }))
}

func TestGoDoesNotCrash(t *testing.T) {
	done := make(chan struct{})
	Go("test", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
