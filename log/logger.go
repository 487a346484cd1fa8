package log

import (
	"io"
	"net/url"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var loggerCacheExpiry = 6 * time.Hour

// Swappable in tests to capture output
var logDestination io.Writer = os.Stderr

func init() {
	loggerCache = cache.New(loggerCacheExpiry, 10*time.Minute)
}

// Permanently add context to the logger. Any future logging for this Request ID will include this context
func AddContext(requestID string, keyvals ...interface{}) {
	loggerCache.Set(requestID, kitlog.With(getLogger(requestID), redactKeyvals(keyvals...)...), loggerCacheExpiry)
}

// RemoveContext drops the cached logger for a finished request so its
// accumulated context stops leaking into unrelated log lines.
func RemoveContext(requestID string) {
	loggerCache.Delete(requestID)
}

func Log(requestID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(requestID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// Log in situations where we don't have access to the Request ID.
// Should be used sparingly and with as much context inserted into the message as possible
func LogNoRequestID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(requestID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(requestID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

func getLogger(requestID string) kitlog.Logger {
	logger, found := loggerCache.Get(requestID)
	if found {
		return logger.(kitlog.Logger)
	}

	requestLogger := kitlog.With(newLogger(), "request_id", requestID)
	if err := loggerCache.Add(requestID, requestLogger, loggerCacheExpiry); err != nil {
		_ = requestLogger.Log("msg", "error adding logger to cache", "request_id", requestID)
	}
	return requestLogger
}

func newLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(logDestination))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}

// RedactURL strips the password out of URL strings before they hit the logs.
// Anything unparseable is replaced wholesale since we cannot tell which part
// is the credential.
func RedactURL(str string) string {
	u, err := url.Parse(str)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, v := keyvals[i], keyvals[i+1]
		if strVal, ok := v.(string); ok {
			if u, err := url.Parse(strVal); err == nil {
				if _, passwordSet := u.User.Password(); passwordSet {
					v = u.Redacted()
				}
			}
		}
		out = append(out, k, v)
	}
	if len(keyvals)%2 == 1 {
		out = append(out, keyvals[len(keyvals)-1])
	}
	return out
}
