package storage

import (
	"context"
	"errors"
	"time"

	"github.com/evcc-io/idconnect/util"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// adapter routes gorm logs to the sqlite logger
type adapter struct {
	log *util.Logger
}

func (l *adapter) LogMode(_ logger.LogLevel) logger.Interface {
	return l
}

func (l *adapter) Info(_ context.Context, format string, args ...interface{}) {
	l.log.INFO.Printf(format, args...)
}

func (l *adapter) Warn(_ context.Context, format string, args ...interface{}) {
	l.log.WARN.Printf(format, args...)
}

func (l *adapter) Error(_ context.Context, format string, args ...interface{}) {
	l.log.ERROR.Printf(format, args...)
}

func (l *adapter) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	sql, rows := fc()

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.log.ERROR.Printf("%v: %s", err, sql)
		return
	}

	l.log.TRACE.Printf("%s (%d rows, %v)", sql, rows, time.Since(begin).Round(time.Millisecond))
}
