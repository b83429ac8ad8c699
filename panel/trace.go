package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)


// a panic raised by a canceled action is expected and is not logged
func isCanceledPanic(r any) bool {
	switch v := r.(type) {
	case error:
		return errors.Is(v, context.Canceled)
	case string:
		return v == context.Canceled.Error()
	default:
		return false
	}
}

// runs `do` and returns the recovered panic, if any
// user callbacks and surfaces all run through this so one bad callback cannot take down the panel
func HandleError(do func()) (r any) {
	defer func() {
		if r = recover(); r != nil && !isCanceledPanic(r) {
			glog.Warningf("[panel]recovered = %s\n", panicJson(r, debug.Stack()))
		}
	}()
	do()
	return
}

func panicJson(r any, stack []byte) string {
	frames := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			frames = append(frames, line)
		}
	}
	b, _ := json.Marshal(map[string]any{
		"panic": fmt.Sprintf("%T=%v", r, r),
		"stack": frames,
	})
	return string(b)
}


func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	if !glog.V(LogLevelDebug) {
		return do()
	}
	start := time.Now()
	glog.Infof("[trace]%s start\n", tag)
	result, returnErr = do()
	millis := float64(time.Since(start)) / float64(time.Millisecond)
	if returnErr != nil {
		glog.Infof("[trace]%s end (%.2fms) err = %s\n", tag, millis, returnErr)
	} else {
		glog.Infof("[trace]%s end (%.2fms)\n", tag, millis)
	}
	return
}
