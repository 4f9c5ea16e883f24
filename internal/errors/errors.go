package errors

import "sync"

var (
	defaultHandler *ErrorHandler
	once           sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	var err error
	once.Do(func() {
		defaultHandler, err = NewErrorHandler()
	})
	return defaultHandler, err
}

// HandleError reports err through the default handler. Errors constructing
// the handler itself are ignored; the caller still has the error value.
func HandleError(err error) {
	if handler, handlerErr := GetDefaultHandler(); handlerErr == nil {
		handler.Handle(err)
	}
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	once = sync.Once{}
}
