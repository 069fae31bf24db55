package util

// A simple leveled log implementation. Each component gets a SimpleLogWrapper
// with a unique header, so a log line looks like
// `2006/01/02 15:04:05.000000 [optimizer] [DEBUG]: pushed 2 predicates`
// and the component doesn't need to repeat its name in every call.
// Usage:
// ```golang
//	optLog := util.GetLog("optimizer")
//	optLog.DebugF("pass %s changed the plan", name)
// ```

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

var (
	logLevelMaps = map[int]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
	}
	globalLogLock sync.Mutex
	globalLogger  = map[string]SimpleLogWrapper{}
	logOut        io.Writer = os.Stderr
	logLevel                = INFO
)

type SimpleLogWrapper struct {
	header string
}

func GetLog(logName string) SimpleLogWrapper {
	globalLogLock.Lock()
	defer globalLogLock.Unlock()
	_, ok := globalLogger[logName]
	if !ok {
		globalLogger[logName] = SimpleLogWrapper{logName}
	}
	return globalLogger[logName]
}

func SetLogLevel(level int) {
	globalLogLock.Lock()
	defer globalLogLock.Unlock()
	logLevel = level
}

func SetLogOutput(w io.Writer) {
	globalLogLock.Lock()
	defer globalLogLock.Unlock()
	logOut = w
}

func (log SimpleLogWrapper) DebugF(format string, params ...interface{}) {
	printLog(log.header, DEBUG, format, params...)
}

func (log SimpleLogWrapper) InfoF(format string, params ...interface{}) {
	printLog(log.header, INFO, format, params...)
}

func (log SimpleLogWrapper) WarnF(format string, params ...interface{}) {
	printLog(log.header, WARN, format, params...)
}

func (log SimpleLogWrapper) ErrorF(format string, params ...interface{}) {
	printLog(log.header, ERROR, format, params...)
}

// printLog prints a log with format like:
// 2006/01/02 15:04:05.000000 [header] [INFO]: some thing happened.
func printLog(header string, level int, format string, a ...interface{}) {
	globalLogLock.Lock()
	defer globalLogLock.Unlock()
	if level < logLevel {
		return
	}
	l := fmt.Sprintf("%s [%s] [%s]: ", time.Now().Format("2006/01/02 15:04:05.000000"), header, logLevelMaps[level])
	l = fmt.Sprintf(l+format, a...)
	fmt.Fprintln(logOut, l)
}
