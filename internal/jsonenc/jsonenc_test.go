package jsonenc

import "testing"

func TestMarshalUnmarshalContentRoundTrips(t *testing.T) {
	in := map[string]string{"name": "Test Jetton", "symbol": "TEST", "decimals": "9"}

	raw, err := MarshalContent(in)
	if err != nil {
		t.Fatalf("MarshalContent: %v", err)
	}

	out, err := UnmarshalContent(raw)
	if err != nil {
		t.Fatalf("UnmarshalContent: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d keys, want %d", len(out), len(in))
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("key %q: got %q, want %q", k, out[k], v)
		}
	}
}

func TestMarshalContentNilEncodesAsNull(t *testing.T) {
	raw, err := MarshalContent(nil)
	if err != nil {
		t.Fatalf("MarshalContent: %v", err)
	}
	if raw != "null" {
		t.Fatalf("got %q, want %q", raw, "null")
	}
}

func TestUnmarshalContentEmptyStringIsNil(t *testing.T) {
	out, err := UnmarshalContent("")
	if err != nil {
		t.Fatalf("UnmarshalContent: %v", err)
	}
	if out != nil {
		t.Fatalf("got %v, want nil", out)
	}
}
