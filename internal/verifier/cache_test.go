package verifier

import (
	"bytes"
	"testing"
	"time"

	"github.com/lattice-labs/bmde-go/internal/provenance"
)

func TestCacheKey_Framing(t *testing.T) {
	a := cacheKey("order", "fp", []byte("ab"), []byte("c"))
	b := cacheKey("order", "fp", []byte("a"), []byte("bc"))
	if bytes.Equal(a, b) {
		t.Fatalf("cacheKey collides across field boundary")
	}
	if !bytes.Equal(a, cacheKey("order", "fp", []byte("ab"), []byte("c"))) {
		t.Fatalf("cacheKey not deterministic")
	}
	if bytes.Equal(a, cacheKey("order", "other", []byte("ab"), []byte("c"))) {
		t.Fatalf("cacheKey ignores key fingerprint")
	}
	if bytes.Equal(a, cacheKey("revisions", "fp", []byte("ab"), []byte("c"))) {
		t.Fatalf("cacheKey ignores operation")
	}
}

func TestBadgerCache_RoundTrip(t *testing.T) {
	cache, err := OpenBadgerCache(CacheConfig{Path: t.TempDir(), TTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("OpenBadgerCache() err=%v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	key := []byte("k")
	if _, ok, err := cache.Get(key); err != nil || ok {
		t.Fatalf("Get(missing)=(_, %v, %v), want miss", ok, err)
	}

	name := "plasmid"
	in := Outcome{
		History: &provenance.History{
			Header:    provenance.Header{ID: "rec", DesignName: &name},
			Revisions: []provenance.Revision{{Number: 1, Design: "acgt"}},
		},
		InitialDesign: "acgt",
	}
	if err := cache.Put(key, in); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	got, ok, err := cache.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get()=(_, %v, %v), want hit", ok, err)
	}
	if got.History == nil || got.History.ID != "rec" || *got.History.DesignName != "plasmid" || got.InitialDesign != "acgt" {
		t.Fatalf("Get()=%+v", got)
	}
}

func TestOpenBadgerCache_Disabled(t *testing.T) {
	cache, err := OpenBadgerCache(CacheConfig{Disabled: true}, nil)
	if err != nil || cache != nil {
		t.Fatalf("OpenBadgerCache(disabled)=(%v, %v), want (nil, nil)", cache, err)
	}
}

func TestCacheConfigFromEnv(t *testing.T) {
	t.Setenv("PROVIDER_CACHE_TTL", "30s")
	t.Setenv("PROVIDER_CACHE_PATH", "/tmp/cache")
	cfg, err := CacheConfigFromEnv()
	if err != nil {
		t.Fatalf("CacheConfigFromEnv() err=%v", err)
	}
	if cfg.TTL != 30*time.Second || cfg.Path != "/tmp/cache" {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("PROVIDER_CACHE_TTL", "0s")
	if _, err := CacheConfigFromEnv(); err == nil {
		t.Fatalf("CacheConfigFromEnv() expected error for zero TTL")
	}
}
