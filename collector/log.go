package collector

// Logger is the minimal structured logger this package writes to.
// Implemented by common/logger.Logger.
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

var pkgLogger Logger = nopLogger{}

// SetLogger injects the application logger. Passing nil restores the no-op logger.
func SetLogger(l Logger) {
	if l == nil {
		pkgLogger = nopLogger{}
		return
	}
	pkgLogger = l
}
