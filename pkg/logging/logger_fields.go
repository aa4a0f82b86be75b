package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Field helpers for names that recur across the engine
func Component(name string) Field {
	return String("component", name)
}

func Txn(id string) Field {
	return String("txn_id", id)
}

func Node(id string) Field {
	return String("node", id)
}

func Resource(key string) Field {
	return String("resource", key)
}

func FailureKind(kind string) Field {
	return String("failure_kind", kind)
}

func State(s string) Field {
	return String("state", s)
}

func Outcome(o string) Field {
	return String("outcome", o)
}

func Count(n int) Field {
	return Int("count", n)
}

func Attempt(n int) Field {
	return Int("attempt", n)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}
