package logger

import (
	"github.com/yanun0323/logs"
)

// Reporter sends failures handled by the stores to the error log.
type Reporter struct {
	log *Logger
}

func NewReporter(log *Logger) *Reporter {
	if log == nil {
		log = Discard()
	}
	return &Reporter{log: log}
}

// Report never panics.
func (r *Reporter) Report(tag string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errorf("report %s failed: %v, err: %+v", tag, rec, err)
		}
	}()
	r.log.ErrorPro(tag, err)
}
