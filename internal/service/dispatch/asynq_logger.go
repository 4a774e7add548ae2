package dispatch

import (
	"fmt"

	"github.com/tripnest/booking-payments/pkg/logger"
)

// AsynqLogger routes asynq's internal logging into the service logger
type AsynqLogger struct {
	logger *logger.Logger
}

func NewAsynqLogger(log *logger.Logger) *AsynqLogger {
	return &AsynqLogger{logger: log}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *AsynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(fmt.Sprint(args...)) }
