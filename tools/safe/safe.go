package safe

import (
	"PShop/logger"
	"PShop/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go func() {
		defer Recover(name, nil)
		f()
	}()
}

// Recover must be deferred. It logs the panic and hands the wrapped error to onPanic.
func Recover(name string, onPanic func(error)) {
	r := recover()
	if r == nil {
		return
	}
	err := errs.ErrPanic(r)
	logger.Error("panic recovered", zap.String("where", name), zap.Error(err), zap.Stack("stack"))
	if onPanic != nil {
		onPanic(err)
	}
}

// Call runs f and converts a panic into an error.
func Call(name string, f func() error) (err error) {
	defer Recover(name, func(e error) { err = e })
	return f()
}
