package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/bitechdev/tagstream/pkg/errortracking"
)

var Logger *zap.SugaredLogger
var errorTracker errortracking.Provider

// Init builds a development or production logger writing to stderr
func Init(dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	UpdateLogger(&cfg)
}

// UpdateLoggerPath builds a logger that writes to path instead of stderr
func UpdateLoggerPath(path string, dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{path}
	UpdateLogger(&cfg)
}

func UpdateLogger(config *zap.Config) {
	if config == nil {
		defaultConfig := zap.NewProductionConfig()
		defaultConfig.OutputPaths = []string{"tagstream.log"}
		config = &defaultConfig
	}

	built, err := config.Build()
	if err != nil {
		log.Print(err)
		return
	}

	Logger = built.Sugar()
	Info("tagstream logger initialized")
}

// Sync flushes buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// InitErrorTracking installs the provider that receives warnings, errors and panics
func InitErrorTracking(provider errortracking.Provider) {
	errorTracker = provider
	if errorTracker != nil {
		Info("Error tracking initialized")
	}
}

// GetErrorTracker returns the current error tracking provider
func GetErrorTracker() errortracking.Provider {
	return errorTracker
}

// CloseErrorTracking flushes and closes the error tracking provider
func CloseErrorTracking() error {
	if errorTracker != nil {
		errorTracker.Flush(5)
		return errorTracker.Close()
	}
	return nil
}

func Info(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Infow(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Warn(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Warnw(message, "process_id", os.Getpid())
	}
	track(context.Background(), message, errortracking.SeverityWarning)
}

func Error(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Errorw(message, "process_id", os.Getpid())
	}
	track(context.Background(), message, errortracking.SeverityError)
}

func Debug(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Debugw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func track(ctx context.Context, message string, severity errortracking.Severity) {
	if errorTracker == nil {
		return
	}
	errorTracker.CaptureMessage(ctx, message, severity, map[string]interface{}{
		"process_id": os.Getpid(),
	})
}

// CatchPanicCallback recovers a panic in the calling goroutine, reports it and
// hands the recovered value to cb. Must be deferred directly.
func CatchPanicCallback(location string, cb func(err any)) {
	if err := recover(); err != nil {
		reportPanic(location, err)
		if cb != nil {
			cb(err)
		}
	}
}

// CatchPanic recovers and reports a panic. Must be deferred directly.
func CatchPanic(location string) {
	if err := recover(); err != nil {
		reportPanic(location, err)
	}
}

func reportPanic(location string, err any) {
	callstack := debug.Stack()

	if Logger != nil {
		Error("Panic in %s : %v", location, err)
	} else {
		fmt.Printf("%s:PANIC->%+v", location, err)
		debug.PrintStack()
	}

	if errorTracker != nil {
		errorTracker.CapturePanic(context.Background(), err, callstack, map[string]interface{}{
			"location":   location,
			"process_id": os.Getpid(),
		})
	}
}

// HandlePanic logs a value returned by recover() and converts it to an error.
// ctx is forwarded to the error tracker so request scoped hubs are used.
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = logger.HandlePanic("MethodName", r, ctx)
//	    }
//	}()
func HandlePanic(methodName string, r any, ctx context.Context) error {
	stack := debug.Stack()
	Error("Panic in %s: %v\nStack trace:\n%s", methodName, r, string(stack))

	if errorTracker != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		errorTracker.CapturePanic(ctx, r, stack, map[string]interface{}{
			"method":     methodName,
			"process_id": os.Getpid(),
		})
	}

	return fmt.Errorf("panic in %s: %v", methodName, r)
}
