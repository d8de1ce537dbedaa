package vector

import "testing"

func TestNewIndex(t *testing.T) {
	tests := []struct {
		metric  string
		want    string
		wantErr bool
	}{
		{"", "l2", false},
		{"l2", "l2", false},
		{"ip", "ip", false},
		{"hnsw", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			idx, err := NewIndex(tt.metric, 3)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if idx.Type() != tt.want || idx.Dimensions() != 3 || idx.Size() != 0 {
				t.Errorf("got type=%s dim=%d size=%d", idx.Type(), idx.Dimensions(), idx.Size())
			}
		})
	}
}

func TestNewIndex_InvalidDimension(t *testing.T) {
	if _, err := NewIndex("l2", 0); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := NewIndex("ip", -1); err == nil {
		t.Error("expected error for negative dimension")
	}
}
