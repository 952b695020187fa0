package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithPaymentID(ctx, "pay-123")
	ctx = log.WithTickID(ctx, "tick-9")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"payment_id\"")) {
		t.Fatalf("expected payment_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"tick_id\"")) {
		t.Fatalf("expected tick_id to be preserved; entry=%s", buf.String())
	}
}

func TestLoggerErrorCarriesStructuredDump(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	wrapped := pkgerrors.Wrap(pkgerrors.CodeConflict, errors.New("row moved"), "status write lost race")
	log.Error(context.Background(), "ledger write failed", wrapped)

	if !bytes.Contains(buf.Bytes(), []byte("\"error_detail\"")) {
		t.Fatalf("expected structured error dump; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"code\":\"CONFLICT\"")) {
		t.Fatalf("expected error code in dump; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"chain\"")) {
		t.Fatalf("expected unwrap chain in dump; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	ctx := context.Background()
	log.Warn(ctx, "warny")
	if !bytes.Contains(buf.Bytes(), []byte("warny")) {
		t.Fatalf("expected warn entry; got %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fall back to info, got %v", lvl)
	}
}
