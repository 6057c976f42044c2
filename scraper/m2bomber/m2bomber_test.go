package m2bomber

import "testing"

func TestSourceIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/object/123456", "123456"},
		{"/ua/object/987654/", "987654"},
		{"/obj-flats-sale", "obj-flats-sale"},
	}

	for _, tt := range tests {
		if got := sourceIDFromPath(tt.path); got != tt.want {
			t.Errorf("sourceIDFromPath(%q) = %q; want %q", tt.path, got, tt.want)
		}
	}
}
