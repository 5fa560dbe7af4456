package ledger

import (
	"context"
	"path/filepath"
	"testing"
)

func benchLedger(b *testing.B) *Ledger {
	b.Helper()
	store, err := OpenSQLite(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { store.Close() })

	led, err := Open(context.Background(), store, WithAnchorInterval(0))
	if err != nil {
		b.Fatal(err)
	}
	return led
}

func BenchmarkLog_Single(b *testing.B) {
	led := benchLedger(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := sampleEntry()
		e.Position = 0
		e.PrevHash = ""
		if _, err := led.Log(ctx, e); err != nil {
			b.Fatal(err)
		}
	}
}

func benchVerify(b *testing.B, n int) {
	b.Helper()
	led := benchLedger(b)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e := sampleEntry()
		e.Position = 0
		e.PrevHash = ""
		if _, err := led.Log(ctx, e); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := led.VerifyChain(ctx, 1, 0)
		if err != nil {
			b.Fatal(err)
		}
		if !result.Valid {
			b.Fatal("invalid chain:", result.Error)
		}
	}
}

func BenchmarkVerifyChain_1000(b *testing.B) {
	benchVerify(b, 1000)
}

func BenchmarkVerifyChain_10000(b *testing.B) {
	benchVerify(b, 10000)
}

func BenchmarkComputeHash(b *testing.B) {
	e := sampleEntry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ComputeHash(); err != nil {
			b.Fatal(err)
		}
	}
}
