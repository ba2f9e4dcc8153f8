package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/fetchcache"
)

func TestZapLoggerFieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Warn("store get failed", fetchcache.Fields{"key": "entry:ds:k", "err": errors.New("boom")})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("entries = %d, want 2", len(all))
	}
	if all[1].Level != zapcore.WarnLevel || all[1].Message != "store get failed" {
		t.Fatalf("entry = %+v", all[1])
	}
	ctx := all[1].ContextMap()
	if ctx["key"] != "entry:ds:k" || ctx["err"] != "boom" {
		t.Fatalf("fields = %v", ctx)
	}
}

func TestNewProductionRejectsBadLevel(t *testing.T) {
	if _, err := NewProduction("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewProduction("warn"); err != nil {
		t.Fatalf("NewProduction(warn): %v", err)
	}
}
