package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if pageCacheLookupsTotal == nil || deliveriesTotal == nil ||
		datesTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCacheLookup(t *testing.T) {
	Init()
	hitsBefore := testutil.ToFloat64(pageCacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	if got := testutil.ToFloat64(pageCacheLookupsTotal.WithLabelValues("hit")); got != hitsBefore+1 {
		t.Errorf("expected hit counter %f, got %f", hitsBefore+1, got)
	}
}

func TestObserveDeliveryDefaultsClass(t *testing.T) {
	ObserveDelivery("delivered", "")
	if got := testutil.ToFloat64(deliveriesTotal.WithLabelValues("delivered", "none")); got < 1 {
		t.Errorf("expected delivered/none to be counted, got %f", got)
	}
}

func TestObservePageDownloadAndBackoff(t *testing.T) {
	ObservePageDownload(nil)
	ObservePageDownload(errors.New("boom"))
	if got := testutil.ToFloat64(pageDownloadsTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected error download to be counted, got %f", got)
	}
	ObserveBackoff("rate_limited", 4*time.Second)
	if n := testutil.CollectAndCount(deliveryBackoffSeconds); n == 0 {
		t.Error("expected backoff histogram to be observed")
	}
	SetQueueDepth("pending", 7)
	if got := testutil.ToFloat64(queueDepth.WithLabelValues("pending")); got != 7 {
		t.Errorf("expected pending depth 7, got %f", got)
	}
}
