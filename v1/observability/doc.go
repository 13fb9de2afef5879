// Package observability defines the hook instrumented packages report their
// operations through. The metrics package implements Observer; tests usually
// pass an ObserverFunc.
package observability
