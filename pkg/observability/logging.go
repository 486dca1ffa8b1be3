package observability

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger - JSON логгер для всего сервиса; service и version попадают в каждую запись
func InitLogger(level, service, version string) *zap.SugaredLogger {
	logConfig := zap.NewProductionConfig()
	logConfig.Sampling = nil
	logConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	logConfig.EncoderConfig.MessageKey = "message"
	logConfig.DisableStacktrace = true
	logConfig.Level = zap.NewAtomicLevelAt(DetermineLogLevel(level))

	fields := map[string]interface{}{}
	if service != "" {
		fields["service"] = service
	}
	if version != "" {
		fields["version"] = version
	}
	logConfig.InitialFields = fields

	logger, err := logConfig.Build()
	if err != nil {
		log.Fatal(err)
	}

	return logger.Sugar()
}

// DetermineLogLevel: неизвестный уровень - info
func DetermineLogLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "warning":
		return zap.WarnLevel
	case "":
		return zap.InfoLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.InfoLevel
	}
	return lvl
}
