package utils

import (
	"fmt"
	"runtime/debug"

	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// GoSafe runs fn in a new goroutine and logs any panic it raises.
func GoSafe(log *logger.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Recovered panic in goroutine",
					logger.StringField("panic", fmt.Sprint(r)),
					logger.StringField("stack", string(debug.Stack())))
			}
		}()
		fn()
	}()
}

func ToPointer[T any](v T) *T {
	return &v
}
