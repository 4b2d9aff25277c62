package core

// Logger is any service that can log.
// args are optional and can be: error, map[string]interface{} (extras) or the user.User who triggered the log.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
