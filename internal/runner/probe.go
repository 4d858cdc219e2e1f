package runner

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

// Probe issues a GET to url and reports whether it answered 2xx within
// timeout. Any error counts as unhealthy.
func Probe(ctx context.Context, url string, timeout time.Duration) bool {
	client := resty.New().SetTimeout(timeout).SetLogger(restyLogger{})
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		log.Debug().Str("url", url).Err(err).Msg("probe failed")
		return false
	}
	return resp.IsSuccess()
}

// Alive reports whether a process with pid exists.
func Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}

type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) { log.Debug().Msgf(format, v...) }
func (restyLogger) Warnf(format string, v ...interface{})  { log.Debug().Msgf(format, v...) }
func (restyLogger) Debugf(format string, v ...interface{}) { log.Trace().Msgf(format, v...) }
