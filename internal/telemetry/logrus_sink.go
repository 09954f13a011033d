package telemetry

import "github.com/sirupsen/logrus"

// LogrusSink adapts Sink to a *logrus.Logger, emitting one field-structured
// entry per event. Field names are kept short and stable since they're
// meant to be grepped or aggregated, not read as prose.
type LogrusSink struct {
	Logger *logrus.Logger
}

// NewLogrusSink returns a LogrusSink wrapping logger. If logger is nil,
// logrus.StandardLogger() is used.
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{Logger: logger}
}

func (s *LogrusSink) OnInsert(collection, key string, pageNumber uint64) {
	s.Logger.WithFields(logrus.Fields{
		"collection": collection,
		"key":        key,
		"page":       pageNumber,
	}).Debug("insert")
}

func (s *LogrusSink) OnSplit(pageNumber, newPageNumber uint64, kind string) {
	s.Logger.WithFields(logrus.Fields{
		"page":     pageNumber,
		"new_page": newPageNumber,
		"kind":     kind,
	}).Info("split")
}

func (s *LogrusSink) OnEvict(pageNumber uint64, dirty bool) {
	s.Logger.WithFields(logrus.Fields{
		"page":  pageNumber,
		"dirty": dirty,
	}).Trace("evict")
}

func (s *LogrusSink) OnFlush(bytesWritten int) {
	s.Logger.WithField("bytes", bytesWritten).Debug("wal flush")
}

func (s *LogrusSink) OnWALAppend(lsn uint64, kind byte) {
	s.Logger.WithFields(logrus.Fields{
		"lsn":  lsn,
		"kind": string(kind),
	}).Trace("wal append")
}

func (s *LogrusSink) OnCheckpoint(pageNumber uint64) {
	s.Logger.WithField("page", pageNumber).Info("checkpoint")
}
