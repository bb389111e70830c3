package oracle

import (
	"testing"

	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

func newTestSource(t *testing.T) *Source {
	t.Helper()
	s, err := store.New(&store.Config{DataDir: t.TempDir()}, logging.Default())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, logging.Default())
}

func TestLatestReturnsNilBeforeAnyQuote(t *testing.T) {
	o := newTestSource(t)
	q, err := o.Latest("ETH", "ETH/USD")
	if err != nil {
		t.Fatal(err)
	}
	if q != nil {
		t.Fatalf("expected no quote yet, got %+v", q)
	}
}

func TestSetManualPriceIsLatest(t *testing.T) {
	o := newTestSource(t)
	if err := o.SetManualPrice("ETH", "ETH/USD", "3000.00", 1000); err != nil {
		t.Fatal(err)
	}
	q, err := o.Latest("ETH", "ETH/USD")
	if err != nil {
		t.Fatal(err)
	}
	if q == nil {
		t.Fatal("expected a quote")
	}
	if q.Price != "3000.00" || q.Source != store.QuoteSourceManual {
		t.Fatalf("got %+v", q)
	}

	// A later manual price supersedes the earlier one.
	if err := o.SetManualPrice("ETH", "ETH/USD", "3100.00", 2000); err != nil {
		t.Fatal(err)
	}
	q, err = o.Latest("ETH", "ETH/USD")
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != "3100.00" {
		t.Fatalf("price = %s, want 3100.00", q.Price)
	}
}

func TestSetManualPriceRejectsEmptyFields(t *testing.T) {
	o := newTestSource(t)
	if err := o.SetManualPrice("", "ETH/USD", "3000.00", 1000); err == nil {
		t.Fatal("expected error for empty chainId")
	}
	if err := o.SetManualPrice("ETH", "ETH/USD", "", 1000); err == nil {
		t.Fatal("expected error for empty price")
	}
}

func TestRecordPluginQuoteIsVisibleAsLatestAndDoesNotPanicOnBlank(t *testing.T) {
	o := newTestSource(t)
	o.RecordPluginQuote("", "", "1", 1000) // no-op, must not panic

	o.RecordPluginQuote("POLYGON", "MATIC/USD", "0.75", 5000)
	q, err := o.Latest("POLYGON", "MATIC/USD")
	if err != nil {
		t.Fatal(err)
	}
	if q == nil || q.Price != "0.75" || q.Source != store.QuoteSourcePlugin {
		t.Fatalf("got %+v", q)
	}
}
