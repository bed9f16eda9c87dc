package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger zap 日志实现.
type zapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// newZapLogger 创建 zap logger.
func newZapLogger(config *Config) (Logger, error) {
	out := zapcore.Lock(os.Stdout)
	if strings.EqualFold(config.Output, OutputStderr) {
		out = zapcore.Lock(os.Stderr)
	}
	return newZapLoggerWithSink(config, out), nil
}

// newZapLoggerWithSink 使用指定输出创建 zap logger，测试中用于捕获输出.
func newZapLoggerWithSink(config *Config, sink zapcore.WriteSyncer) Logger {
	core := zapcore.NewCore(buildEncoder(config), sink, parseLevel(config.Level))

	var options []zap.Option
	if config.EnableCaller {
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zapLog := zap.New(core, options...).With(zap.String("service", config.ServiceName))
	return &zapLogger{
		logger: zapLog,
		sugar:  zapLog.Sugar(),
	}
}

// NewNop 返回丢弃所有输出的 logger.
func NewNop() Logger {
	zapLog := zap.NewNop()
	return &zapLogger{
		logger: zapLog,
		sugar:  zapLog.Sugar(),
	}
}

// buildEncoder 构建编码器.
func buildEncoder(config *Config) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeLayout)
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	if strings.EqualFold(config.Format, FormatJSON) {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = "\t"
	return zapcore.NewConsoleEncoder(cfg)
}

// parseLevel 解析日志级别.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(args ...any) {
	z.sugar.Debug(args...)
}

func (z *zapLogger) Debugf(format string, args ...any) {
	z.sugar.Debugf(format, args...)
}

func (z *zapLogger) Info(args ...any) {
	z.sugar.Info(args...)
}

func (z *zapLogger) Infof(format string, args ...any) {
	z.sugar.Infof(format, args...)
}

func (z *zapLogger) Warn(args ...any) {
	z.sugar.Warn(args...)
}

func (z *zapLogger) Warnf(format string, args ...any) {
	z.sugar.Warnf(format, args...)
}

func (z *zapLogger) Error(args ...any) {
	z.sugar.Error(args...)
}

func (z *zapLogger) Errorf(format string, args ...any) {
	z.sugar.Errorf(format, args...)
}

// With 返回带有附加字段的 logger.
func (z *zapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = toZapField(f)
	}

	child := z.logger.With(zapFields...)
	return &zapLogger{
		logger: child,
		sugar:  child.Sugar(),
	}
}

// toZapField 将 Field 转换为 zap.Field.
func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case uint64:
		return zap.Uint64(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	default:
		return zap.Any(f.Key, v)
	}
}

// WithContext 返回带有 context 中 trace 信息的 logger.
//
// 优先读取 OpenTelemetry span，其次读取 ContextWithTraceID 注入的值.
// 没有 trace 信息时返回当前 logger.
func (z *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return z
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return z.With(
			Field{Key: "traceId", Value: sc.TraceID().String()},
			Field{Key: "spanId", Value: sc.SpanID().String()},
		)
	}

	var fields []Field
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		fields = append(fields, Field{Key: "traceId", Value: traceID})
	}
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok && spanID != "" {
		fields = append(fields, Field{Key: "spanId", Value: spanID})
	}
	return z.With(fields...)
}

// Sync 同步日志缓冲区.
func (z *zapLogger) Sync() error {
	return z.logger.Sync()
}

// Close 关闭 logger.
func (z *zapLogger) Close() error {
	// stdout/stderr 的 sync 错误可以忽略
	// https://github.com/uber-go/zap/issues/328
	_ = z.logger.Sync()
	return nil
}

// String 创建字符串字段.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int 创建整数字段.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 创建 int64 字段.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool 创建布尔字段.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Time 创建时间字段.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Duration 创建持续时间字段.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err 创建错误字段.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any 创建任意类型字段.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
