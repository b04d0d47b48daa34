package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestCanonicalizeJSON_ArtifactVectors(t *testing.T) {
	vectorsDir := filepath.Join("..", "..", "..", "testvectors", "v1")
	vectorFiles, err := filepath.Glob(filepath.Join(vectorsDir, "artifact_*.json"))
	if err != nil {
		t.Fatalf("glob artifact vectors: %v", err)
	}
	if len(vectorFiles) == 0 {
		t.Fatal("no artifact vectors found")
	}
	sort.Strings(vectorFiles)

	for _, jsonPath := range vectorFiles {
		t.Run(filepath.Base(jsonPath), func(t *testing.T) {
			expectedPath := strings.TrimSuffix(jsonPath, ".json") + ".jcs"
			input := readFile(t, jsonPath)
			expected := readFile(t, expectedPath)

			actual, err := CanonicalizeJSON(input)
			if err != nil {
				t.Fatalf("canonicalize %s: %v", jsonPath, err)
			}
			if !bytes.Equal(actual, expected) {
				t.Fatalf("canonical bytes mismatch for %s:\n got %s\nwant %s", jsonPath, actual, expected)
			}
		})
	}
}

func TestCanonicalizeJSON_ReceiptVectors(t *testing.T) {
	vectorsDir := filepath.Join("..", "..", "..", "testvectors", "v1")
	vectorFiles, err := filepath.Glob(filepath.Join(vectorsDir, "receipt_*.json"))
	if err != nil {
		t.Fatalf("glob receipt vectors: %v", err)
	}
	if len(vectorFiles) == 0 {
		t.Fatal("no receipt vectors found")
	}
	sort.Strings(vectorFiles)

	for _, jsonPath := range vectorFiles {
		t.Run(filepath.Base(jsonPath), func(t *testing.T) {
			expectedHashPath := strings.TrimSuffix(jsonPath, ".json") + ".sha256.hex"
			input := readFile(t, jsonPath)
			expectedHex := strings.TrimSpace(string(readFile(t, expectedHashPath)))

			actual, err := CanonicalizeJSON(input)
			if err != nil {
				t.Fatalf("canonicalize %s: %v", jsonPath, err)
			}
			sum := sha256.Sum256(actual)
			if actualHex := hex.EncodeToString(sum[:]); actualHex != expectedHex {
				t.Fatalf("digest mismatch for %s: got %s want %s", jsonPath, actualHex, expectedHex)
			}
		})
	}
}

func TestCanonicalizeJSON_Numbers(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{`0`, `0`},
		{`-0`, `0`},
		{`42`, `42`},
		{`-7`, `-7`},
		{`1.5`, `1.5`},
		{`10.0`, `10`},
		{`0.001`, `0.001`},
		{`1e-7`, `1e-7`},
		{`1e21`, `1e+21`},
		{`1.5e22`, `1.5e+22`},
		{`1e20`, `100000000000000000000`},
		{`123456789`, `123456789`},
	}
	for _, tc := range cases {
		actual, err := CanonicalizeJSON([]byte(tc.input))
		if err != nil {
			t.Fatalf("canonicalize %q: %v", tc.input, err)
		}
		if string(actual) != tc.expected {
			t.Errorf("canonicalize %q: got %q want %q", tc.input, actual, tc.expected)
		}
	}
}

func TestCanonicalizeJSON_RejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestCanonicalizeJSON_RejectsInvalidJSON(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":`)); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
}

func TestCanonicalize_StructTagsDecideNames(t *testing.T) {
	type payload struct {
		RunID string `json:"run_id"`
		Seq   int64  `json:"sequence_number"`
	}
	actual, err := Canonicalize(payload{RunID: "run-1", Seq: 3})
	if err != nil {
		t.Fatalf("canonicalize struct: %v", err)
	}
	expected := `{"run_id":"run-1","sequence_number":3}`
	if string(actual) != expected {
		t.Fatalf("got %s want %s", actual, expected)
	}
}

func TestCanonicalize_EquivalentDocumentsShareBytes(t *testing.T) {
	a, err := CanonicalizeJSON([]byte("{\n  \"b\": 1,\n  \"a\": [true, null]\n}"))
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	b, err := CanonicalizeJSON([]byte(`{"a":[true,null],"b":1}`))
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("equivalent documents canonicalized differently: %s vs %s", a, b)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
