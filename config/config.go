package config

import (
	"math/rand"
	"os"
	"time"

	"github.com/go-kit/log"
)

var Version string

// How many times the object store clients re-attempt a read before giving
// up. A variable so tests can tighten it.
var DownloadOSURLRetries uint64 = 2

type TimestampGenerator interface {
	GetTimestampUTC() int64
}

type RealTimestampGenerator struct{}

func (t RealTimestampGenerator) GetTimestampUTC() int64 {
	return time.Now().Unix()
}

type FixedTimestampGenerator struct {
	Timestamp int64
}

func (t FixedTimestampGenerator) GetTimestampUTC() int64 {
	return t.Timestamp
}

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}

const requestIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomTrailer returns a random string usable as a request ID suffix.
func RandomTrailer(length int) string {
	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = requestIDCharset[rand.Intn(len(requestIDCharset))]
	}
	return string(res)
}
