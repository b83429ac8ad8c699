package panel

import (
	"fmt"

	"github.com/golang/glog"
)


// Logging convention in the `panel` package:
// Info (glog.Infof):
//     user actions and their outcome, one line per action. Failures of an action are
//     logged here since the panel recovers from every failure locally.
// Warning (glog.Warningf):
//     recovered panics in callbacks and cache persistence failures
// Debug (glog.V(1), glog.V(2)):
//     request/response details and merge statistics.
//     V(2) is for per-node detail and should only be enabled while tracing a single action.


const LogLevelInfo = 0
const LogLevelDebug = 1
const LogLevelTrace = 2


type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(level glog.Level, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			log("[%s]%s", tag, m)
		}
	}
}
