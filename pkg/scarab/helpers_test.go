package scarab

import (
	"testing"
	"time"
)

func mustNewService(test *testing.T, store Store, now func() int64, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAddress(test *testing.T, raw string) Address {
	test.Helper()
	address, err := NewAddress(raw)
	if err != nil {
		test.Fatalf("new address: %v", err)
	}
	return address
}

func mustTxHash(test *testing.T, raw string) TxHash {
	test.Helper()
	hash, err := NewTxHash(raw)
	if err != nil {
		test.Fatalf("new tx hash: %v", err)
	}
	return hash
}

func mustPurchaseID(test *testing.T, raw string) PurchaseID {
	test.Helper()
	purchaseID, err := NewPurchaseID(raw)
	if err != nil {
		test.Fatalf("new purchase id: %v", err)
	}
	return purchaseID
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("new metadata: %v", err)
	}
	return metadata
}

func fixedClock(moment time.Time) func() int64 {
	unix := moment.UTC().Unix()
	return func() int64 { return unix }
}

func utc(year int, month time.Month, day int, hour int, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}
