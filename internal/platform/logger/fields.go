package logger

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers keep key names consistent across packages. There are deliberately no
// helpers for PII or credentials.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func Subject(v string) zap.Field { return zap.String("subject", v) }

func RunnerID(v string) zap.Field { return zap.String("runner_id", v) }

func RunnerType(v string) zap.Field { return zap.String("runner_type", v) }

func AuthUID(v string) zap.Field { return zap.String("auth_uid", v) }
