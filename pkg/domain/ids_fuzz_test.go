package domain

import "testing"

// FuzzParseEdgeID checks that parsing never panics and that accepted ids round-trip.
func FuzzParseEdgeID(f *testing.F) {
	f.Add("")
	f.Add("1")
	f.Add("9223372036854775807")
	f.Add("9223372036854775808")
	f.Add("-1")
	f.Add("  17")
	f.Add("'; DROP TABLE edges;--")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseEdgeID(input)
		if err != nil {
			return
		}
		if id <= 0 {
			t.Fatalf("accepted non-positive id %d", id)
		}
		back, err := ParseEdgeID(id.String())
		if err != nil || back != id {
			t.Fatalf("round trip failed: %v %d != %d", err, back, id)
		}
	})
}
