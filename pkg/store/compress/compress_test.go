package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressors_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"spot":"B2-14","owner":"u1"}`, 64))

	for _, name := range []string{"none", "s2", "zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			enc, err := c.Encode(payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if name != "none" && len(enc) >= len(payload) {
				t.Errorf("encoded size = %d; want less than %d", len(enc), len(payload))
			}
			dec, err := c.Decode(enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(dec, payload) {
				t.Error("decoded payload differs from original")
			}
		})
	}
}

func TestCompressors_Extensions(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range []Compressor{S2(), Zstd(1), LZ4()} {
		ext := c.Extension()
		if ext == "" {
			t.Errorf("%T has empty extension", c)
		}
		if seen[ext] {
			t.Errorf("duplicate extension %q", ext)
		}
		seen[ext] = true
	}
	if None().Extension() != "" {
		t.Error("None should have no extension")
	}
}

func TestCompressors_DecodeGarbage(t *testing.T) {
	garbage := []byte("definitely not compressed")
	for _, c := range []Compressor{S2(), Zstd(4), LZ4()} {
		if _, err := c.Decode(garbage); err == nil {
			t.Errorf("%T.Decode(garbage) should fail", c)
		}
	}
}

func TestByName_Unknown(t *testing.T) {
	if _, err := ByName("brotli"); err == nil {
		t.Error("ByName(brotli) should fail")
	}
}
