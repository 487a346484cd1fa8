package config

import (
	"flag"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Cli holds the full runtime configuration of composer-api. It is populated
// once in main from flags and COMPOSER_API_* environment variables and must
// not be mutated afterwards.
type Cli struct {
	HTTPAddress string
	PromPort    int
	PprofPort   int
	APIToken    string

	// download settings
	DownloadMaxConcurrent int
	DownloadTimeout       time.Duration
	DownloadMaxBytes      int64

	// output video settings
	VideoWidth         int
	VideoHeight        int
	VideoFPS           int
	VideoCodec         string
	VideoPixelFormat   string
	VideoImageDuration float64

	// output audio settings
	AudioCodec       string
	AudioSampleRate  int
	AudioChannels    int
	AudioBitrate     string
	AudioBGMVolume   float64
	AudioBGMAutoDuck bool
	AudioBGMLoop     bool

	// text overlay settings
	TextFont         string
	TextFontSize     int
	TextFontColor    string
	TextMaxSpanChars int
	TextMinSpanWords int
	TextMaxSpanWords int

	// renderer settings
	MaxConcurrentSegments  int
	StrictMode             bool
	ProbeIgnoreErrMessages []string

	// forced aligner settings
	AlignerURL             *url.URL
	AlignerTimeout         time.Duration
	AlignerMinSuccessRatio float64

	// optional LLM settings
	AIEnabled  bool
	AIEndpoint *url.URL
	AIModel    string
	AITimeout  time.Duration

	// image substitution settings
	ImageSearchURL        *url.URL
	ImageSearchKey        string
	ImageMinWidth         int
	ImageMinHeight        int
	ImageFallbackKeywords []string

	// object storage settings
	StorageOutputURL  string
	StorageKeyPattern string
	StorageMetadata   map[string]string

	// temp file lifecycle settings
	CleanupRetryAttempts uint64
	CleanupRetryDelay    time.Duration
	TempMaxAge           time.Duration
}

// AlignerEnabled reports whether the remote forced aligner should be called.
// Without it, text overlays fall back to uniform timing.
func (cli *Cli) AlignerEnabled() bool {
	return cli.AlignerURL != nil && cli.AlignerURL.String() != ""
}

// UploadEnabled reports whether final clips are pushed to object storage. When
// disabled the local file path is returned to the caller instead.
func (cli *Cli) UploadEnabled() bool {
	return cli.StorageOutputURL != ""
}

func (cli *Cli) ImageSearchEnabled() bool {
	return cli.ImageSearchURL != nil && cli.ImageSearchURL.String() != ""
}

func parseURL(s string, dest **url.URL) error {
	if s == "" {
		*dest = nil
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}

// AddrFlag registers a host:port flag, rejecting values the net package cannot
// split.
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("invalid address %q: %w", s, err)
		}
		*dest = s
		return nil
	})
}

func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		split := strings.Split(s, ",")
		for i, v := range split {
			split[i] = strings.TrimSpace(v)
		}
		*dest = split
		return nil
	})
}

func SpaceSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Fields(s)
		return nil
	})
}

func CommaMapFlag(fs *flag.FlagSet, dest *map[string]string, name string, value map[string]string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		m := map[string]string{}
		if s == "" {
			*dest = m
			return nil
		}
		for _, pair := range strings.Split(s, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("map entry %q not in key=value form", pair)
			}
			m[kv[0]] = kv[1]
		}
		*dest = m
		return nil
	})
}

type InvertedBool struct {
	Value *bool
}

func (f *InvertedBool) String() string {
	if f.Value == nil {
		return ""
	}
	return fmt.Sprint(*f.Value)
}

func (f *InvertedBool) Set(s string) error {
	switch s {
	case "true", "":
		*f.Value = false
	case "false":
		*f.Value = true
	default:
		return fmt.Errorf("not a boolean value: %q", s)
	}
	return nil
}

func (f *InvertedBool) IsBoolFlag() bool { return true }

// InvertedBoolFlag registers a "no-<name>" flag so that features default to on
// but can be switched off from the command line or environment.
func InvertedBoolFlag(fs *flag.FlagSet, dest *bool, name string, value bool, usage string) {
	*dest = value
	fs.Var(&InvertedBool{dest}, "no-"+name, usage)
}
