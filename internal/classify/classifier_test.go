package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

type stubCatalog struct {
	srcSysID string
	factType string
	fileType string
	err      error
	calls    int
}

func (s *stubCatalog) SourceSystemID(ctx context.Context, d model.Descriptor) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.srcSysID, nil
}

func (s *stubCatalog) ModuleFactType(ctx context.Context, srcSysID string) (string, error) {
	s.calls++
	return s.factType, nil
}

func (s *stubCatalog) FileType(ctx context.Context, srcSysID string) (string, error) {
	s.calls++
	return s.fileType, nil
}

func TestClassify_InboundBatchFile(t *testing.T) {
	key := "cnt1/acme/inbound/acme_20240101_120000_volume_offdisc.csv"

	d, ok, err := New(nil).Classify(context.Background(), key, "inbound", "csv")
	if err != nil || !ok {
		t.Fatalf("Classify(%q) = %v, %v; want match", key, ok, err)
	}

	if d.Kind != model.KindInbound {
		t.Errorf("Kind = %q, want %q", d.Kind, model.KindInbound)
	}
	if d.FullURL != key {
		t.Errorf("FullURL = %q, want %q", d.FullURL, key)
	}
	if d.ContainerName != "cnt1" {
		t.Errorf("ContainerName = %q, want cnt1", d.ContainerName)
	}
	if d.BottlerName != "acme" {
		t.Errorf("BottlerName = %q, want acme", d.BottlerName)
	}
	if want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC); !d.BatchDateTime.Equal(want) {
		t.Errorf("BatchDateTime = %v, want %v", d.BatchDateTime, want)
	}
	if d.FiletypePrefix != "offdisc" {
		t.Errorf("FiletypePrefix = %q, want offdisc", d.FiletypePrefix)
	}
	if d.Filetype != "volume" {
		t.Errorf("Filetype = %q, want volume", d.Filetype)
	}
	if d.FactType != "ACT-DOFF" {
		t.Errorf("FactType = %q, want ACT-DOFF", d.FactType)
	}
	if d.BatchPrefix != "acme_20240101_120000_volume" {
		t.Errorf("BatchPrefix = %q", d.BatchPrefix)
	}
	if d.Filename != "acme_20240101_120000_volume_offdisc.csv" {
		t.Errorf("Filename = %q", d.Filename)
	}
	if d.FilenameWithoutExtension != "acme_20240101_120000_volume_offdisc" {
		t.Errorf("FilenameWithoutExtension = %q", d.FilenameWithoutExtension)
	}
	if d.PathInContainer != "acme/inbound" {
		t.Errorf("PathInContainer = %q, want acme/inbound", d.PathInContainer)
	}
}

func TestClassify_FullURLRoundTrip(t *testing.T) {
	c := New(&stubCatalog{srcSysID: "9", factType: "ACT-FX", fileType: "FX"})

	tests := []struct {
		name      string
		key       string
		subfolder string
		ext       string
		kind      model.Kind
	}{
		{"inbound", "cnt1/acme/inbound/acme_20240101_120000_volume_offdisc.csv", "inbound", "csv", model.KindInbound},
		{"url prefix", "https://acct.blob.core.windows.net/cnt1/acme/inbound/ACME_20240101_120000_revenue_channel.csv", "inbound", "csv", model.KindInbound},
		{"valid set bottler", "cnt1/acme/valid-set-files/acme_20240101_120000_volume_offdisc.csv", "valid-set-files", "csv", model.KindInbound},
		{"valid set ui", "cnt1/acme/valid-set-files/channel_20240101_120000_channel.csv", "valid-set-files", "csv", model.KindUISet},
		{"exchange rate", "cnt1/auto-curr-ntrl/valid-set-files/actual_exchange_rates_20240101_120000_curr.csv", "auto-curr-ntrl", "csv", model.KindExchangeRate},
		{"landing csv", "cnt1/acme/landing-files/weekly.csv", "landing-files", "csv", model.KindLanding},
		{"landing txt", "cnt1/acme/landing-files/weekly.txt", "landing-files", "txt", model.KindLanding},
		{"landing xlsx", "cnt1/acme/landing-files/weekly.xlsx", "landing-files", "xlsx", model.KindLanding},
		{"landing zip", "cnt1/acme/landing-files/weekly.zip", "landing-files", "zip", model.KindLanding},
		{"nsr", "cnt1/acme/nsr-files/export_volume_sales.csv", "nsr-files", "csv", model.KindNonCurated},
		{"generic folder", "cnt1/acme/archive/acme_20240101_120000_volume_offdisc.txt", "archive", "txt", model.KindInbound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok, err := c.Classify(context.Background(), tt.key, tt.subfolder, tt.ext)
			if err != nil || !ok {
				t.Fatalf("Classify(%q) = %v, %v; want match", tt.key, ok, err)
			}
			if d.FullURL != tt.key {
				t.Errorf("FullURL = %q, want %q", d.FullURL, tt.key)
			}
			if d.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", d.Kind, tt.kind)
			}
		})
	}
}

func TestClassify_NoMatch(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		subfolder string
		ext       string
	}{
		{"folder disagrees with prefix", "cnt1/acme/inbound/globex_20240101_120000_volume_offdisc.csv", "inbound", "csv"},
		{"generic folder disagrees with prefix", "cnt1/acme/archive/globex_20240101_120000_volume_offdisc.csv", "archive", "csv"},
		{"valid set folder disagrees with prefix", "cnt1/acme/valid-set-files/globex_20240101_120000_volume_offdisc.csv", "valid-set-files", "csv"},
		{"valid set bad timestamp", "cnt1/acme/valid-set-files/acme_20241301_120000_volume_offdisc.csv", "valid-set-files", "csv"},
		{"landing submission disagrees with folder", "cnt1/acme/landing-files/globex_20240101_volume_x.csv", "landing-files", "csv"},
		{"invalid month", "cnt1/acme/inbound/acme_20241301_120000_volume_offdisc.csv", "inbound", "csv"},
		{"short timestamp", "cnt1/acme/inbound/acme_2024_1200_volume_offdisc.csv", "inbound", "csv"},
		{"wrong extension", "cnt1/acme/inbound/acme_20240101_120000_volume_offdisc.txt", "inbound", "csv"},
		{"wrong subfolder", "cnt1/acme/outbound/acme_20240101_120000_volume_offdisc.csv", "inbound", "csv"},
		{"missing subtype", "cnt1/acme/inbound/acme_20240101_120000_volume.csv", "inbound", "csv"},
		{"nsr reupload", "cnt1/acme/nsr-files/F01@export_volume_sales.csv", "nsr-files", "csv"},
		{"too shallow", "acme/inbound/acme_20240101_120000_volume_offdisc.csv", "inbound", "csv"},
	}

	catalogs := map[string]Catalog{
		"without catalog": nil,
		"with catalog":    &stubCatalog{srcSysID: "42", fileType: "TXN"},
	}
	for name, cat := range catalogs {
		c := New(cat)
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				d, ok, err := c.Classify(context.Background(), tt.key, tt.subfolder, tt.ext)
				if err != nil {
					t.Fatalf("Classify(%q) error = %v", tt.key, err)
				}
				if ok {
					t.Fatalf("Classify(%q) = %+v, want no match", tt.key, d)
				}
			})
		}
	}
}

func TestClassify_KeepsMatchedFolderCasing(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		subfolder string
		path      string
	}{
		{"inbound", "cnt1/acme/Inbound/acme_20240101_120000_volume_offdisc.csv", "inbound", "acme/Inbound"},
		{"generic", "cnt1/acme/ARCHIVE/acme_20240101_120000_volume_offdisc.csv", "archive", "acme/ARCHIVE"},
		{"valid set", "cnt1/Acme/Valid-Set-Files/channel_20240101_120000_channel.csv", "valid-set-files", "Acme/Valid-Set-Files"},
		{"exchange rate", "cnt1/Auto-Curr-Ntrl/valid-set-files/actual_exchange_rates_20240101_120000_curr.csv", "auto-curr-ntrl", "Auto-Curr-Ntrl/valid-set-files"},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok, err := c.Classify(context.Background(), tt.key, tt.subfolder, "csv")
			if err != nil || !ok {
				t.Fatalf("Classify(%q) = %v, %v; want match", tt.key, ok, err)
			}
			if d.PathInContainer != tt.path {
				t.Errorf("PathInContainer = %q, want %q", d.PathInContainer, tt.path)
			}
			if got := d.ContainerName + "/" + d.PathInContainer + "/" + d.Filename; got != tt.key {
				t.Errorf("rebuilt key = %q, want %q", got, tt.key)
			}
		})
	}
}

func TestClassify_UISetResolvesFileType(t *testing.T) {
	cat := &stubCatalog{srcSysID: "42", fileType: "CHN"}
	d, ok, err := New(cat).Classify(context.Background(), "cnt1/acme/valid-set-files/channel_20240101_120000_channel.csv", "valid-set-files", "csv")
	if err != nil || !ok {
		t.Fatalf("Classify() = %v, %v; want match", ok, err)
	}
	if d.Filetype != "CHN" {
		t.Errorf("Filetype = %q, want CHN", d.Filetype)
	}
	if d.BottlerName != "acme" {
		t.Errorf("BottlerName = %q, want acme", d.BottlerName)
	}
	if d.HasBatch() {
		t.Error("ui-set files carry no batch prefix")
	}
}

func TestClassify_UISetCurrencyNeutralSkipsCatalog(t *testing.T) {
	cat := &stubCatalog{err: errors.New("must not be called")}
	d, ok, err := New(cat).Classify(context.Background(), "cnt1/acme/valid-set-files/actual_exchange_rates_20240101_120000_eur.csv", "valid-set-files", "csv")
	if err != nil || !ok {
		t.Fatalf("Classify() = %v, %v; want match", ok, err)
	}
	if cat.calls != 0 {
		t.Errorf("catalog called %d times, want 0", cat.calls)
	}
	if d.Filetype != "" {
		t.Errorf("Filetype = %q, want empty", d.Filetype)
	}
}

func TestClassify_ExchangeRateUsesCatalog(t *testing.T) {
	cat := &stubCatalog{srcSysID: "9", factType: "ACT-FX", fileType: "FX"}
	d, ok, err := New(cat).Classify(context.Background(), "cnt1/auto-curr-ntrl/valid-set-files/actual_exchange_rates_20240101_120000_curr.csv", "auto-curr-ntrl", "csv")
	if err != nil || !ok {
		t.Fatalf("Classify() = %v, %v; want match", ok, err)
	}
	if d.FiletypePrefix != "curr" {
		t.Errorf("FiletypePrefix = %q, want curr", d.FiletypePrefix)
	}
	if d.FactType != "ACT-FX" || d.Filetype != "FX" {
		t.Errorf("FactType/Filetype = %q/%q, want ACT-FX/FX", d.FactType, d.Filetype)
	}
	if d.BottlerName != "auto-curr-ntrl" {
		t.Errorf("BottlerName = %q", d.BottlerName)
	}
}

func TestClassify_ExchangeRateCatalogFailureIsNoMatch(t *testing.T) {
	cat := &stubCatalog{err: errors.New("no row")}
	_, ok, err := New(cat).Classify(context.Background(), "cnt1/auto-curr-ntrl/valid-set-files/actual_exchange_rates_20240101_120000_curr.csv", "auto-curr-ntrl", "csv")
	if err != nil || ok {
		t.Fatalf("Classify() = %v, %v; want no match without error", ok, err)
	}
}

func TestClassify_UISetCatalogFailureIsError(t *testing.T) {
	errMissing := errors.New("no source system row")
	cat := &stubCatalog{err: errMissing}

	_, ok, err := New(cat).Classify(context.Background(), "cnt1/acme/valid-set-files/channel_20240101_120000_channel.csv", "valid-set-files", "csv")
	if ok {
		t.Fatal("expected no descriptor when the catalog fails")
	}
	if !errors.Is(err, errMissing) {
		t.Fatalf("error = %v, want wrapping %v", err, errMissing)
	}
}

func TestClassify_NonCuratedTokens(t *testing.T) {
	d, ok, err := New(nil).Classify(context.Background(), "cnt1/acme/nsr-files/export_volume_sales.csv", "nsr-files", "csv")
	if err != nil || !ok {
		t.Fatalf("Classify() = %v, %v; want match", ok, err)
	}
	if d.FactType != "volume" || d.Filetype != "volume_sales" {
		t.Errorf("FactType/Filetype = %q/%q, want volume/volume_sales", d.FactType, d.Filetype)
	}
	if d.ProcessingKey() != "cnt1/acme/nsr-files/export_volume_sales" {
		t.Errorf("ProcessingKey() = %q", d.ProcessingKey())
	}
}

func TestClassify_GenericVariantIsCached(t *testing.T) {
	c := New(nil)
	key := "cnt1/acme/Archive/acme_20240101_120000_volume_offdisc.csv"
	for range 2 {
		if _, ok, err := c.Classify(context.Background(), key, "Archive", "csv"); err != nil || !ok {
			t.Fatalf("Classify() = %v, %v; want match", ok, err)
		}
	}
	n := 0
	c.generic.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("generic cache holds %d variants, want 1", n)
	}
}

func TestFactTypeFor(t *testing.T) {
	tests := map[string]string{
		"volume":   "ACT-VOL",
		"Revenue":  "ACT-REV",
		"stddisc":  "ACT-DSTD",
		"bulkdisc": "ACT-DBLK",
		"OFFDISC":  "ACT-DOFF",
		"channel":  "",
		"":         "",
	}
	for token, want := range tests {
		if got := FactTypeFor(token); got != want {
			t.Errorf("FactTypeFor(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestIsV3LandingFile(t *testing.T) {
	folder, ok := IsV3LandingFile("cnt1/acme/landing-files/acme_20240101_volume_x.csv")
	if !ok || folder != "acme" {
		t.Errorf("IsV3LandingFile() = %q, %v; want acme, true", folder, ok)
	}

	folder, ok = IsV3LandingFile("cnt1/acme/landing-files/globex_20240101_volume_x.csv")
	if ok || folder != "acme" {
		t.Errorf("IsV3LandingFile() = %q, %v; want acme, false", folder, ok)
	}

	if folder, ok := IsV3LandingFile("cnt1/acme/landing-files/weekly.csv"); ok || folder != "" {
		t.Error("expected non-v3 landing file to be rejected")
	}
	if folder, _ := IsV3LandingFile("cnt1/acme/landing-files/globex_20240101_channel.csv"); folder != "" {
		t.Errorf("IsV3LandingFile() folder = %q for a non-submission file", folder)
	}
}

func TestMarkers(t *testing.T) {
	if !IsCurrencyNeutralFile("Rolling_Estimate_Exchange_Rates_20240101_120000_eur.csv") {
		t.Error("expected currency-neutral match")
	}
	if !isSubmissionFile("acme_20240101_120000_volume_offdisc.csv") {
		t.Error("expected submission match")
	}
	if isSubmissionFile("acme_20240101_120000_channel.csv") {
		t.Error("unexpected submission match")
	}
}
