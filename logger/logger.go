// Package logger provides adapters for popular logger libraries to work with pagevault's Logger interface.
//
// The adapters allow you to use your existing logger with pagevault without writing boilerplate.
// Note that the standard library's slog.Logger already implements pagevault.Logger directly.
//
// Example with zap:
//
//	import (
//	    "pagevault"
//	    "pagevault/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    env, err := pagevault.Open("data.db", pagevault.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer env.Close()
//	}
package logger
